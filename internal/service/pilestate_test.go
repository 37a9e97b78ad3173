package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcharger/charging-server/internal/coremodel"
)

// TestPileTransition_Legal 合法流转表
func TestPileTransition_Legal(t *testing.T) {
	cases := []struct {
		from  coremodel.PileStatus
		event string
		want  coremodel.PileStatus
	}{
		{coremodel.PileStatusIdle, EventReserve, coremodel.PileStatusReserved},
		{coremodel.PileStatusIdle, EventStartCharge, coremodel.PileStatusCharging},
		{coremodel.PileStatusReserved, EventStartCharge, coremodel.PileStatusCharging},
		{coremodel.PileStatusReserved, EventReleaseReservation, coremodel.PileStatusIdle},
		{coremodel.PileStatusCharging, EventEndCharge, coremodel.PileStatusIdle},
		{coremodel.PileStatusCharging, EventOvertimeDetected, coremodel.PileStatusOvertime},
		{coremodel.PileStatusIdle, EventOvertimeDetected, coremodel.PileStatusOvertime},
		{coremodel.PileStatusOvertime, EventVacate, coremodel.PileStatusIdle},
		{coremodel.PileStatusIdle, EventReportFault, coremodel.PileStatusFault},
		{coremodel.PileStatusReserved, EventReportFault, coremodel.PileStatusFault},
		{coremodel.PileStatusCharging, EventReportFault, coremodel.PileStatusFault},
		{coremodel.PileStatusOvertime, EventReportFault, coremodel.PileStatusFault},
		{coremodel.PileStatusFault, EventResolveFault, coremodel.PileStatusIdle},
	}

	for _, c := range cases {
		got, err := PileTransition(c.from, c.event)
		require.NoError(t, err, "%s on %s", c.event, c.from)
		assert.Equal(t, c.want, got, "%s on %s", c.event, c.from)
	}
}

// TestPileTransition_Illegal 非法流转报错且状态不变
func TestPileTransition_Illegal(t *testing.T) {
	cases := []struct {
		from  coremodel.PileStatus
		event string
	}{
		{coremodel.PileStatusCharging, EventReserve},
		{coremodel.PileStatusFault, EventReserve},
		{coremodel.PileStatusOvertime, EventStartCharge},
		{coremodel.PileStatusFault, EventStartCharge},
		{coremodel.PileStatusIdle, EventReleaseReservation},
		{coremodel.PileStatusIdle, EventEndCharge},
		{coremodel.PileStatusReserved, EventEndCharge},
		{coremodel.PileStatusReserved, EventOvertimeDetected},
		{coremodel.PileStatusIdle, EventVacate},
		{coremodel.PileStatusCharging, EventVacate},
		{coremodel.PileStatusIdle, EventResolveFault},
	}

	for _, c := range cases {
		got, err := PileTransition(c.from, c.event)
		assert.ErrorIs(t, err, coremodel.ErrInvalidStateTransition, "%s on %s", c.event, c.from)
		assert.Equal(t, c.from, got, "状态应保持不变")
	}
}

// TestCanTransition 只判定不执行
func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(coremodel.PileStatusIdle, EventReserve))
	assert.False(t, CanTransition(coremodel.PileStatusFault, EventReserve))
}
