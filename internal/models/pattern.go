package models

import "time"

// MessagePattern is a recurring issue message template within one run.
type MessagePattern struct {
	ClusterID  string     `json:"cluster_id" yaml:"cluster_id"`
	Template   string     `json:"template" yaml:"template"`
	Components []string   `json:"components" yaml:"components"`
	Count      int        `json:"count" yaml:"count"`
	Anomalies  int        `json:"anomalies" yaml:"anomalies"`
	Severity   Severity   `json:"severity" yaml:"severity"`
	FirstSeen  *time.Time `json:"first_seen,omitempty" yaml:"first_seen,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
	Example    string     `json:"example" yaml:"example"`
}
