package protocol

// Command is the closed set of request verbs the server understands
type Command uint8

const (
	CommandUnknown Command = iota
	CommandAuth
	CommandJoin
	CommandSend
	CommandLeave
)

// Request verbs as they appear on the start line
const (
	VerbAuth  = "AUTH"
	VerbJoin  = "JOIN"
	VerbSend  = "SEND"
	VerbLeave = "LEAVE"
)

// ParseCommand maps a start-line verb to a Command. Matching is exact
// (verbs are upper-case on the wire); anything else is CommandUnknown.
func ParseCommand(verb string) Command {
	switch verb {
	case VerbAuth:
		return CommandAuth
	case VerbJoin:
		return CommandJoin
	case VerbSend:
		return CommandSend
	case VerbLeave:
		return CommandLeave
	default:
		return CommandUnknown
	}
}

// String returns the wire verb for the command.
func (c Command) String() string {
	switch c {
	case CommandAuth:
		return VerbAuth
	case CommandJoin:
		return VerbJoin
	case CommandSend:
		return VerbSend
	case CommandLeave:
		return VerbLeave
	default:
		return "UNKNOWN"
	}
}
