package state

// EntityID addresses an entity in the server's arena. Zero means none.
type EntityID int32

// Valid reports whether id refers to an entity.
func (id EntityID) Valid() bool { return id > 0 }

// ServerFlags steer how the selector treats an entity.
type ServerFlags uint32

const (
	// SVFNoClient entities are never sent.
	SVFNoClient ServerFlags = 1 << iota
	// SVFDeadMonster entities are low priority on overflow.
	SVFDeadMonster
	// SVFMonster entities are high priority on overflow.
	SVFMonster
	// SVFNoCull entities skip the area connectivity test.
	SVFNoCull
	// SVFOwnerOnly entities are shown only to their owner by the
	// reference customization hook.
	SVFOwnerOnly
)

// Solid is the collision class of an entity.
type Solid uint8

const (
	SolidNot Solid = iota
	SolidTrigger
	SolidBBox
	// SolidBSP entities are attached to world geometry (doors, platforms).
	SolidBSP
)

// Edict is the authoritative server record of one entity slot. The
// simulation owns the arena; the sync layer only reads it.
type Edict struct {
	State   EntityState
	InUse   bool
	Client  bool
	SVFlags ServerFlags
	Solid   Solid
	Owner   EntityID
	// Areas the entity touches; Area2 is nonzero for entities straddling
	// an area portal.
	Area  int
	Area2 int
}
