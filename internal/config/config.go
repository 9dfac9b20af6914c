package config

import "time"

// Config holds all configuration for one deployment run
type Config struct {
	// Worker configuration
	Model          string
	GPUSpec        string
	StartPort      int
	TensorParallel int
	VLLMBin        string
	ExtraArgs      string

	// Load balancer configuration
	ListenPort int
	NginxBin   string

	// Logging configuration
	LogDir string

	// Monitor configuration
	Tick          time.Duration
	StatsInterval time.Duration
	TailLines     int
}
