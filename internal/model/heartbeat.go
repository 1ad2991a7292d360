package model

// HeartbeatDoc is the on-disk JSON document written by the Heartbeat Store
// (spec §3, §4.4). Field names match the wire/disk format exactly — the
// server and any external tooling reading this file depend on these names.
type HeartbeatDoc struct {
	LastPilotUpdate  int64 `json:"last_pilot_update"`
	LastServerUpdate int64 `json:"last_server_update"`
}
