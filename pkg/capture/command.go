package capture

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is an EtherCAT datagram command code.
type Command uint8

// EtherCAT command set.
const (
	CommandNOP  Command = 0
	CommandAPRD Command = 1
	CommandAPWR Command = 2
	CommandAPRW Command = 3
	CommandFPRD Command = 4
	CommandFPWR Command = 5
	CommandFPRW Command = 6
	CommandBRD  Command = 7
	CommandBWR  Command = 8
	CommandBRW  Command = 9
	CommandLRD  Command = 10
	CommandLWR  Command = 11
	CommandLRW  Command = 12
	CommandARMW Command = 13
	CommandFRMW Command = 14
)

var commandNames = map[Command]string{
	CommandNOP:  "NOP",
	CommandAPRD: "APRD",
	CommandAPWR: "APWR",
	CommandAPRW: "APRW",
	CommandFPRD: "FPRD",
	CommandFPWR: "FPWR",
	CommandFPRW: "FPRW",
	CommandBRD:  "BRD",
	CommandBWR:  "BWR",
	CommandBRW:  "BRW",
	CommandLRD:  "LRD",
	CommandLWR:  "LWR",
	CommandLRW:  "LRW",
	CommandARMW: "ARMW",
	CommandFRMW: "FRMW",
}

// String returns the EtherCAT mnemonic for the command, e.g. "LRW".
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("CMD(%d)", uint8(c))
}

// ParseCommand parses a command code as exported by the capture tool.
// Accepts decimal ("12") and hex ("0x0c") notations.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)

	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("parsing command code %q: %w", s, err)
	}

	return Command(v), nil
}
