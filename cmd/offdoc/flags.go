package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RunFlags struct {
	ConfigPath string
	NoBridge   bool
	NoBackend  bool
}

type BackendFlags struct {
	ConfigPath string
	Addr       string
	Model      string
	Host       string
}

type StatusFlags struct {
	ConfigPath string
	NoProbe    bool
	// Running offdoc bridge
	APIUrl string
}

type ChatFlags struct {
	ConfigPath string
	Timeout    time.Duration
	// Running offdoc bridge
	APIUrl string
}

type HistoryFlags struct {
	ConfigPath string
	Clear      bool
	Limit      int
}

type SettingsFlags struct {
	ConfigPath    string
	SaveHistory   string
	AnonymizeData string
}
