package proto

// SvcOp identifies a server to client message.
type SvcOp uint8

const (
	SvcBad SvcOp = iota
	SvcNop
	SvcDisconnect
	SvcPrint
	SvcStuffText
	SvcConfigString
	// SvcSpawnBaseline carries one entity delta from the empty state.
	SvcSpawnBaseline
	// SvcBaselinesDone ends the connect-time baseline list.
	SvcBaselinesDone
	SvcSound
	SvcTempEntity
	// SvcFrame is followed by SvcPlayerInfo and SvcPacketEntities.
	SvcFrame
	SvcPlayerInfo
	SvcPacketEntities
	// SvcLevelChange starts a signon: spawn count long, level name. The
	// client drops its baselines, configstrings and frames.
	SvcLevelChange
	svcCount
)

var svcNames = [...]string{
	SvcBad:            "svc_bad",
	SvcNop:            "svc_nop",
	SvcDisconnect:     "svc_disconnect",
	SvcPrint:          "svc_print",
	SvcStuffText:      "svc_stufftext",
	SvcConfigString:   "svc_configstring",
	SvcSpawnBaseline:  "svc_spawnbaseline",
	SvcBaselinesDone:  "svc_baselines_done",
	SvcSound:          "svc_sound",
	SvcTempEntity:     "svc_temp_entity",
	SvcFrame:          "svc_frame",
	SvcPlayerInfo:     "svc_playerinfo",
	SvcPacketEntities: "svc_packetentities",
	SvcLevelChange:    "svc_levelchange",
}

func (op SvcOp) String() string {
	if op < svcCount {
		return svcNames[op]
	}
	return "svc_unknown"
}

// ClcOp identifies a client to server message.
type ClcOp uint8

const (
	ClcBad ClcOp = iota
	ClcNop
	// ClcAck carries the last valid frame number, or NoDelta to request a
	// full update.
	ClcAck
	// ClcBegin tells the server the baseline list was loaded. It carries
	// the spawn count of the signon it answers.
	ClcBegin
	// ClcSettings carries a settings byte and a rate long.
	ClcSettings
	ClcDisconnect
	clcCount
)

var clcNames = [...]string{
	ClcBad:        "clc_bad",
	ClcNop:        "clc_nop",
	ClcAck:        "clc_ack",
	ClcBegin:      "clc_begin",
	ClcSettings:   "clc_settings",
	ClcDisconnect: "clc_disconnect",
}

func (op ClcOp) String() string {
	if op < clcCount {
		return clcNames[op]
	}
	return "clc_unknown"
}

// Print levels for SvcPrint.
const (
	PrintLow = iota
	PrintMedium
	PrintHigh
	PrintChat
)
