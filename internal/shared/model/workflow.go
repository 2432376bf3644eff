// Package model 定义核心数据模型
//
// workflow.go 包含工作流相关的数据模型定义：
//   - WorkflowConfig：可运行工作流的完整静态定义（任务图 + 仪器 + 耗材）
//   - Workflow：命名、可复用的工作流（工作流库中的一条记录）
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// WorkflowConfig - 工作流静态定义
// ============================================================================

// Instrument 工作流声明的仪器
//
// Capacity 仅作为元数据保留，调度器不做容量约束。
type Instrument struct {
	Type     string `json:"type" yaml:"type" bson:"type"`
	Capacity int    `json:"capacity,omitempty" yaml:"capacity,omitempty" bson:"capacity,omitempty"`
}

// Location 耗材位置（仪器 + 槽位）
type Location struct {
	Instrument string `json:"instrument" yaml:"instrument" bson:"instrument"`
	Slot       string `json:"slot,omitempty" yaml:"slot,omitempty" bson:"slot,omitempty"`
}

// Labware 工作流声明的耗材
type Labware struct {
	StartingLocation Location `json:"starting_location" yaml:"starting_location" bson:"starting_location"`
}

// WorkflowConfig 可运行工作流的完整静态定义
//
// 不变式（由 taskgraph.Validate 检查，不满足时只产生告警）：
//   - 每个 Dependencies 条目都引用 Tasks 中存在的任务
//   - 每个任务的 InstrumentType 都能在 Instruments 中找到对应类型
type WorkflowConfig struct {
	Tasks       map[string]TaskSpec   `json:"tasks" yaml:"tasks" bson:"tasks"`
	Instruments map[string]Instrument `json:"instruments" yaml:"instruments" bson:"instruments"`
	Labware     map[string]Labware    `json:"labware,omitempty" yaml:"labware,omitempty" bson:"labware,omitempty"`
}

// ParseWorkflowConfig 解析工作流文件，支持 JSON 与 YAML 两种格式
func ParseWorkflowConfig(data []byte) (*WorkflowConfig, error) {
	cfg := &WorkflowConfig{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty workflow config")
	}

	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, cfg); err != nil {
			return nil, fmt.Errorf("invalid workflow json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, cfg); err != nil {
			return nil, fmt.Errorf("invalid workflow yaml: %w", err)
		}
	}
	cfg.ensureMaps()
	return cfg, nil
}

// ToYAML 以 YAML 格式导出工作流配置
func (c *WorkflowConfig) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *WorkflowConfig) ensureMaps() {
	if c.Tasks == nil {
		c.Tasks = make(map[string]TaskSpec)
	}
	if c.Instruments == nil {
		c.Instruments = make(map[string]Instrument)
	}
	if c.Labware == nil {
		c.Labware = make(map[string]Labware)
	}
}

// ============================================================================
// Workflow - 工作流库记录
// ============================================================================

// Workflow 命名、可复用的工作流定义
type Workflow struct {
	ID          string         `json:"id" bson:"_id" db:"id"`
	Name        string         `json:"name" bson:"name" db:"name"`
	Description string         `json:"description,omitempty" bson:"description,omitempty" db:"description"`
	Config      WorkflowConfig `json:"config" bson:"config" db:"config"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" bson:"updated_at" db:"updated_at"`
}
