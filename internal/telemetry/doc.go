// Package telemetry defines the driver telemetry wire model shared by the
// broadcaster and its viewers.
//
// A telemetry event carries one vehicle's driver state and position. Events
// travel over a framed text stream where each data frame is
// "data: <json>\n\n" and lifecycle sentinels use SSE comment lines
// (":ok", ":heartbeat", ":closing").
package telemetry
