package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Reply status markers.
const (
	statusOK   = '+'
	statusFail = '-'
)

// readyID is the implicit request answered by the worker's first output line.
const readyID int64 = 0

// Reply is a decoded inbound line: "<id> <+|-> <json>".
type Reply struct {
	ID      int64
	OK      bool
	Payload json.RawMessage
}

// encodeRequest renders an outbound line: "<id> <command> <json args>\n".
func encodeRequest(id int64, command string, args json.RawMessage) ([]byte, error) {
	if err := validateCommand(command); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		args = json.RawMessage("null")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, args); err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}

	line := make([]byte, 0, compact.Len()+len(command)+24)
	line = strconv.AppendInt(line, id, 10)
	line = append(line, ' ')
	line = append(line, command...)
	line = append(line, ' ')
	line = append(line, compact.Bytes()...)
	line = append(line, '\n')
	return line, nil
}

// decodeReply parses one inbound line. The line may still carry its newline.
func decodeReply(line []byte) (Reply, error) {
	line = bytes.TrimRight(line, "\r\n")

	idPart, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return Reply{}, protocolErr(line, errors.New("missing status"))
	}
	id, err := strconv.ParseInt(string(idPart), 10, 64)
	if err != nil || id < 0 {
		return Reply{}, protocolErr(line, fmt.Errorf("bad request id %q", idPart))
	}

	status, payload, ok := bytes.Cut(rest, []byte{' '})
	if !ok {
		return Reply{}, protocolErr(line, errors.New("missing payload"))
	}
	if len(status) != 1 || (status[0] != statusOK && status[0] != statusFail) {
		return Reply{}, protocolErr(line, fmt.Errorf("bad status %q", status))
	}
	if !json.Valid(payload) {
		return Reply{}, protocolErr(line, errors.New("payload is not valid JSON"))
	}

	return Reply{
		ID:      id,
		OK:      status[0] == statusOK,
		Payload: json.RawMessage(bytes.Clone(payload)),
	}, nil
}

func validateCommand(command string) error {
	if command == "" {
		return ErrEmptyCommand
	}
	if strings.IndexFunc(command, unicode.IsSpace) >= 0 {
		return fmt.Errorf("command name %q contains whitespace", command)
	}
	return nil
}

func protocolErr(line []byte, err error) *ProtocolError {
	return &ProtocolError{Line: string(line), Err: err}
}
