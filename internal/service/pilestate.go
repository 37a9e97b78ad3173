package service

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/smartcharger/charging-server/internal/coremodel"
)

// 充电桩状态机事件
const (
	EventReserve            = "reserve"             // 预约确认：IDLE → RESERVED
	EventStartCharge        = "start_charge"        // 会话开始：IDLE/RESERVED → CHARGING
	EventReleaseReservation = "release_reservation" // 预约取消/过期：RESERVED → IDLE
	EventEndCharge          = "end_charge"          // 会话正常结束：CHARGING → IDLE
	EventOvertimeDetected   = "overtime_detected"   // 超时占位检出：CHARGING/IDLE → OVERTIME
	EventVacate             = "vacate"              // 挪车确认：OVERTIME → IDLE
	EventReportFault        = "report_fault"        // 故障上报：任意 → FAULT
	EventResolveFault       = "resolve_fault"       // 故障修复：FAULT → IDLE
)

// pileEvents 充电桩合法流转表。
// IDLE → OVERTIME 看似多余，但结束会话会先把桩收敛为IDLE，
// 巡检在宽限期后才把未挪车的桩标记为超时占位，因此必须允许。
func pileEvents() fsm.Events {
	idle := string(coremodel.PileStatusIdle)
	reserved := string(coremodel.PileStatusReserved)
	charging := string(coremodel.PileStatusCharging)
	overtime := string(coremodel.PileStatusOvertime)
	fault := string(coremodel.PileStatusFault)

	return fsm.Events{
		{Name: EventReserve, Src: []string{idle}, Dst: reserved},
		{Name: EventStartCharge, Src: []string{idle, reserved}, Dst: charging},
		{Name: EventReleaseReservation, Src: []string{reserved}, Dst: idle},
		{Name: EventEndCharge, Src: []string{charging}, Dst: idle},
		{Name: EventOvertimeDetected, Src: []string{charging, idle}, Dst: overtime},
		{Name: EventVacate, Src: []string{overtime}, Dst: idle},
		{Name: EventReportFault, Src: []string{idle, reserved, charging, overtime}, Dst: fault},
		{Name: EventResolveFault, Src: []string{fault}, Dst: idle},
	}
}

// PileTransition 校验并执行一次状态流转，返回目标状态。
// 非法流转返回 ErrInvalidStateTransition，状态不变。
// 桩状态持久化在 DB 中，这里按当前值临时构建状态机做合法性判定，
// 调用方必须持有该桩的 pilelock 并在同一事务内落库。
func PileTransition(from coremodel.PileStatus, event string) (coremodel.PileStatus, error) {
	m := fsm.NewFSM(string(from), pileEvents(), nil)
	if err := m.Event(context.Background(), event); err != nil {
		return from, fmt.Errorf("%w: %s on %s", coremodel.ErrInvalidStateTransition, event, from)
	}
	return coremodel.PileStatus(m.Current()), nil
}

// CanTransition 只判定不执行
func CanTransition(from coremodel.PileStatus, event string) bool {
	return fsm.NewFSM(string(from), pileEvents(), nil).Can(event)
}
