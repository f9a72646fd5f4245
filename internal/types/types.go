package types

// Bodies of the JSON HTTP endpoints. The sync protocol itself is binary.

type RoomCreated struct {
	Code string `json:"code"`
}

type RoomStats struct {
	Code         string   `json:"code"`
	ServerTime   uint64   `json:"server_time"`
	Ticks        uint64   `json:"ticks"`
	Clients      int      `json:"clients"`
	Live         []uint32 `json:"live"`
	Synced       int      `json:"synced"`
	Updates      uint64   `json:"updates"`
	StateChanges uint64   `json:"state_changes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
