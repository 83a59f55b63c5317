package modifier

// Level identifies one rung of a category's ladder, e.g. "boost.tier2".
// The empty string is the sentinel meaning "no modifier active".
type Level string

// NoModifier is the sentinel level. It is never a member of a category's
// level set and always encodes to the reserved wire byte.
const NoModifier Level = ""

// IsActive reports whether the level names an actual modifier rung.
func (l Level) IsActive() bool {
	return l != NoModifier
}

// Origin records which simulation role inserted a stack entry.
type Origin string

const (
	// OriginPredicted marks entries applied optimistically by the owning
	// client before server confirmation.
	OriginPredicted Origin = "predicted"
	// OriginServer marks entries applied by the authoritative simulation.
	OriginServer Origin = "server"
	// OriginReplicated marks entries reconstructed from a replicated
	// summary during rollback.
	OriginReplicated Origin = "replicated"
)

// NetType selects how a request crosses the network boundary.
type NetType string

const (
	// NetTypePredicted applies locally at once and reconciles against the
	// next authoritative summary.
	NetTypePredicted NetType = "predicted"
	// NetTypePredictedCorrection is NetTypePredicted plus an immediate
	// server correction frame on disagreement.
	NetTypePredictedCorrection NetType = "predicted_correction"
	// NetTypeServerInitiated is only valid with server authority; clients
	// observe the result purely through replication.
	NetTypeServerInitiated NetType = "server"
)

// ParseNetType maps a wire string onto a known net type.
func ParseNetType(value string) (NetType, bool) {
	switch NetType(value) {
	case NetTypePredicted, NetTypePredictedCorrection, NetTypeServerInitiated:
		return NetType(value), true
	default:
		return "", false
	}
}

// Role names the simulation role that owns a stack instance. Exactly one
// role ever mutates a given instance, so no locking is needed.
type Role string

const (
	RoleAuthority  Role = "authority"
	RolePredicting Role = "predicting"
	RoleObserver   Role = "observer"
)

// Op enumerates the mutations a request can carry.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpReset  Op = "reset"
)

// ParseOp maps a wire string onto a known operation.
func ParseOp(value string) (Op, bool) {
	switch Op(value) {
	case OpAdd, OpRemove, OpReset:
		return Op(value), true
	default:
		return "", false
	}
}
