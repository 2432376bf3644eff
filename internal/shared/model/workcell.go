package model

import "time"

// InstrumentDriver 工作单元中的仪器（驱动身份 + 配置）
type InstrumentDriver struct {
	Type   string                 `json:"type" bson:"type"`
	Driver string                 `json:"driver" bson:"driver"`
	Config map[string]interface{} `json:"config,omitempty" bson:"config,omitempty"`
}

// Workcell 命名的仪器集合
type Workcell struct {
	ID          string                      `json:"id" bson:"_id" db:"id"`
	Name        string                      `json:"name" bson:"name" db:"name"`
	Description string                      `json:"description,omitempty" bson:"description,omitempty" db:"description"`
	Instruments map[string]InstrumentDriver `json:"instruments" bson:"instruments" db:"instruments"`
	CreatedAt   time.Time                   `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// InstrumentTypes 返回工作单元提供的仪器类型集合
func (w *Workcell) InstrumentTypes() map[string]bool {
	types := make(map[string]bool, len(w.Instruments))
	for _, inst := range w.Instruments {
		types[inst.Type] = true
	}
	return types
}
