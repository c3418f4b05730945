package canboot

import "fmt"

// CAN identifiers reserved for the bootloader. Requests travel from the host
// to the boards on RequestID, responses come back on ResponseID. Both are
// standard-format (11-bit) data frames.
const (
	RequestID  uint32 = 0x7FF
	ResponseID uint32 = 0x7FE
)

// MaxPayload is the number of data bytes one bootloader message can carry
// after the 4-byte header within a classical CAN frame.
const MaxPayload = 4

// StartOfBlockMask marks the data counter of the first message in a
// multi-message block transfer. The remaining low bits hold the countdown of
// messages left in the block.
const StartOfBlockMask uint8 = 0x80

// Subject identifies the bootloader operation a message refers to.
type Subject uint8

const (
	SubjectIdentify         Subject = 1
	SubjectSetAddress       Subject = 2
	SubjectData             Subject = 3
	SubjectStartApplication Subject = 4

	// Only available in the "bigger" bootloader builds.
	SubjectGetFuseBits Subject = 5
	SubjectChipErase   Subject = 6
)

func (s Subject) String() string {
	switch s {
	case SubjectIdentify:
		return "identify"
	case SubjectSetAddress:
		return "set_address"
	case SubjectData:
		return "data"
	case SubjectStartApplication:
		return "start_app"
	case SubjectGetFuseBits:
		return "get_fusebits"
	case SubjectChipErase:
		return "chip_erase"
	}
	return fmt.Sprintf("subject(%d)", uint8(s))
}

// MessageType distinguishes requests from the three kinds of answers a board
// can give.
type MessageType uint8

const (
	TypeRequest     MessageType = 0
	TypeSuccess     MessageType = 1
	TypeError       MessageType = 2
	TypeWrongNumber MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeSuccess:
		return "success"
	case TypeError:
		return "error"
	case TypeWrongNumber:
		return "wrong_number"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Command is the packed command byte carried in the second data byte of every
// bootloader frame: the message type in the top two bits, the subject in the
// lower six.
type Command uint8

// MakeCommand packs a message type and subject into a command byte.
func MakeCommand(t MessageType, s Subject) Command {
	return Command(uint8(t)<<6 | uint8(s)&0x3F)
}

// Type extracts the message type from the command byte.
func (c Command) Type() MessageType { return MessageType(c >> 6) }

// Subject extracts the subject from the command byte.
func (c Command) Subject() Subject { return Subject(c & 0x3F) }

func (c Command) String() string {
	return fmt.Sprintf("%s.%s", c.Subject(), c.Type())
}

// Message is one bootloader protocol message.
//
// Wire layout within the CAN data field:
//
//	0       board identifier
//	1       command byte (type<<6 | subject)
//	2       message number
//	3       data counter
//	4..7    payload (0..4 bytes)
type Message struct {
	BoardID     uint8
	Type        MessageType
	Subject     Subject
	Number      uint8
	DataCounter uint8
	Data        []byte
}

// Command returns the packed command byte for the message.
func (m Message) Command() Command {
	return MakeCommand(m.Type, m.Subject)
}

// Encode builds the CAN frame carrying m with the given identifier
// (RequestID for host-to-board traffic, ResponseID for answers).
func (m Message) Encode(id uint32) (Frame, error) {
	if id != RequestID && id != ResponseID {
		return Frame{}, fmt.Errorf("canboot: 0x%03X is not a bootloader identifier", id)
	}
	if len(m.Data) > MaxPayload {
		return Frame{}, fmt.Errorf("canboot: payload %d bytes, max %d: %w", len(m.Data), MaxPayload, ErrInvalidLen)
	}
	var f Frame
	f.ID = id
	f.Len = uint8(4 + len(m.Data))
	f.Data[0] = m.BoardID
	f.Data[1] = byte(m.Command())
	f.Data[2] = m.Number
	f.Data[3] = m.DataCounter
	copy(f.Data[4:], m.Data)
	return f, nil
}

// DecodeMessage parses a bootloader message out of a CAN frame. Frames that
// are extended, RTR, too short or carry a foreign identifier are rejected.
func DecodeMessage(f Frame) (Message, error) {
	if f.Extended || f.RTR {
		return Message{}, fmt.Errorf("canboot: not a bootloader frame: %s", f)
	}
	if f.ID != RequestID && f.ID != ResponseID {
		return Message{}, fmt.Errorf("canboot: foreign identifier 0x%03X", f.ID)
	}
	if f.Len < 4 || f.Len > 8 {
		return Message{}, fmt.Errorf("canboot: frame length %d, want 4..8", f.Len)
	}
	cmd := Command(f.Data[1])
	m := Message{
		BoardID:     f.Data[0],
		Type:        cmd.Type(),
		Subject:     cmd.Subject(),
		Number:      f.Data[2],
		DataCounter: f.Data[3],
		Data:        make([]byte, f.Len-4),
	}
	copy(m.Data, f.Data[4:f.Len])
	return m, nil
}

func (m Message) String() string {
	s := fmt.Sprintf("%s.%s id 0x%x [%x] %d >", m.Subject, m.Type, m.BoardID, m.Number, m.DataCounter)
	for _, b := range m.Data {
		s += fmt.Sprintf(" %02x", b)
	}
	return s
}
