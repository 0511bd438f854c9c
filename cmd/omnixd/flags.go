package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}

type UpFlags struct {
	ConfigPath string
}

type DownFlags struct {
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Name   string
	Report bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ServiceFlags struct {
	Name string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ValidateFlags struct {
	ConfigPath string
}

type TemplateCreateFlags struct {
	Kind   string
	Name   string
	Output string
	Force  bool
}
