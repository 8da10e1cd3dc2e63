// Package observe provides the logging, tracing and metrics primitives shared
// by every callgate component.
//
// Loggers are backed by zerolog; spans and instruments by OpenTelemetry.
// Exporters are selected by name through the exporters subpackage.
package observe
