package notify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smartcharger/charging-server/internal/coremodel"
)

// Templates 通知文案模板：通知类型 -> fmt格式串。
// 支持从yaml覆盖默认文案，便于运营调整措辞而不改代码。
type Templates struct {
	Map map[string]string `yaml:"map"`
}

// DefaultTemplates 返回默认通知文案
func DefaultTemplates() *Templates {
	return &Templates{
		Map: map[string]string{
			string(coremodel.NoticeIdleReminder):        "您关注的充电桩%s已空闲，可以开始充电。",
			string(coremodel.NoticeOvertimeWarning):     "您在充电桩%s的充电已完成%d分钟，请尽快移车，避免占用充电资源。",
			string(coremodel.NoticeFaultNotice):         "充电桩%s发生故障，相关服务已暂停，给您带来不便敬请谅解。",
			string(coremodel.NoticeReservationReminder): "您在充电桩%s的预约即将开始，请按时到场充电。",
		},
	}
}

// LoadTemplates 从yaml文件加载文案并覆盖默认值
func LoadTemplates(path string) (*Templates, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notice templates: %w", err)
	}
	var t Templates
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("unmarshal notice templates: %w", err)
	}
	out := DefaultTemplates()
	out.Merge(&t)
	return out, nil
}

// Render 渲染指定类型的通知内容
func (t *Templates) Render(typ coremodel.NoticeType, args ...interface{}) string {
	if t == nil || t.Map == nil {
		return string(typ)
	}
	format, ok := t.Map[string(typ)]
	if !ok {
		return string(typ)
	}
	return fmt.Sprintf(format, args...)
}

// Merge 合并另一份模板的覆盖项
func (t *Templates) Merge(other *Templates) {
	if t == nil || t.Map == nil || other == nil || other.Map == nil {
		return
	}
	for k, v := range other.Map {
		t.Map[k] = v
	}
}
