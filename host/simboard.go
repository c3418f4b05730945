package host

import (
	"context"
	"sync"

	"github.com/avrkit/canboot"
	"github.com/avrkit/canboot/at90can"
)

// SimBoard is an in-process board emulator for exercising the client without
// hardware: it answers identify/set-address/data/start/erase/fuse requests
// and transmits every reply through a simulated AT90CAN transmit path, so
// the mailbox pool and frame builder sit in the loop.
//
// It backs the sim transport of canflash and the client tests.
type SimBoard struct {
	node *at90can.Node
	ep   canboot.Bus
	id   uint8
	info BoardInfo

	mu       sync.Mutex
	pages    [][]byte
	fuses    []byte
	page     int
	offset   int // 4-byte words into the current page
	lastPage int
	expected uint8
	started  bool
	maxBlock int
	discard  bool
}

// NewSimBoard creates an emulated board answering on the given bus endpoint.
// The endpoint is owned by the board and closed with it.
func NewSimBoard(ep canboot.Bus, boardID uint8, info BoardInfo) *SimBoard {
	s := &SimBoard{
		node:  at90can.NewNode(ep, boardID),
		ep:    ep,
		id:    boardID,
		info:  info,
		fuses: []byte{0x62, 0xD9, 0xFF, 0xFF},
	}
	s.pages = make([][]byte, info.Pages)
	for i := range s.pages {
		s.pages[i] = make([]byte, info.PageSize)
		for j := range s.pages[i] {
			s.pages[i][j] = 0xFF
		}
	}
	go s.run()
	return s
}

// Close detaches the board from the bus.
func (s *SimBoard) Close() error { return s.ep.Close() }

// SetExpectedNumber primes the board's message numbering, for tests of the
// resynchronization path.
func (s *SimBoard) SetExpectedNumber(n uint8) {
	s.mu.Lock()
	s.expected = n
	s.mu.Unlock()
}

// SetMaxBlock limits how many data messages the board accepts per block;
// larger blocks are answered with an error, forcing the client to shrink.
// Zero means unlimited.
func (s *SimBoard) SetMaxBlock(n int) {
	s.mu.Lock()
	s.maxBlock = n
	s.mu.Unlock()
}

// PageData returns a copy of a flash page.
func (s *SimBoard) PageData(page int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.pages[page]))
	copy(out, s.pages[page])
	return out
}

// Started reports whether the application was started.
func (s *SimBoard) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *SimBoard) run() {
	for {
		f, err := s.ep.Receive()
		if err != nil {
			return
		}
		if f.ID != canboot.RequestID {
			continue
		}
		msg, err := canboot.DecodeMessage(f)
		if err != nil || msg.BoardID != s.id || msg.Type != canboot.TypeRequest {
			continue
		}
		s.handle(msg)
	}
}

// reply sends one answer through the simulated transmit path.
func (s *SimBoard) reply(t canboot.MessageType, subject canboot.Subject, number uint8, data []byte) {
	s.node.Tx.Stage(number, 0)
	_ = s.node.Tx.Send(context.Background(), canboot.MakeCommand(t, subject), data)
}

func (s *SimBoard) handle(msg canboot.Message) {
	s.mu.Lock()
	if msg.Number != s.expected {
		expected := s.expected
		s.mu.Unlock()
		s.reply(canboot.TypeWrongNumber, msg.Subject, expected, nil)
		return
	}
	s.expected++

	var (
		respond = true
		mtype   = canboot.TypeSuccess
		data    []byte
	)
	switch msg.Subject {
	case canboot.SubjectIdentify:
		code := uint8(0xFF)
		for c, size := range pageSizes {
			if size == s.info.PageSize {
				code = c
			}
		}
		data = []byte{
			s.info.BootloaderType<<4 | s.info.Version&0x0F,
			code,
			byte(s.info.Pages >> 8),
			byte(s.info.Pages),
		}

	case canboot.SubjectSetAddress:
		if len(msg.Data) < 4 {
			mtype = canboot.TypeError
			break
		}
		s.page = int(msg.Data[0])<<8 | int(msg.Data[1])
		s.offset = int(msg.Data[3])

	case canboot.SubjectData:
		if msg.DataCounter&canboot.StartOfBlockMask != 0 {
			n := int(msg.DataCounter&^canboot.StartOfBlockMask) + 1
			s.discard = s.maxBlock > 0 && n > s.maxBlock
		}
		if s.discard {
			if msg.DataCounter&^canboot.StartOfBlockMask != 0 {
				respond = false
				break
			}
			// The rejected final message stays unconsumed so the client's
			// numbering is still aligned for the retried block.
			s.expected--
			s.discard = false
			mtype = canboot.TypeError
			break
		}
		if len(msg.Data) != 4 || s.page >= len(s.pages) {
			mtype = canboot.TypeError
			break
		}
		copy(s.pages[s.page][s.offset*4:], msg.Data)
		s.lastPage = s.page
		s.offset++
		if s.offset >= s.info.PageSize/4 {
			// Buffer full: the page is written and the cursor moves on.
			s.page++
			s.offset = 0
		}
		// Only the last message of a block is acknowledged.
		if msg.DataCounter&^canboot.StartOfBlockMask != 0 {
			respond = false
			break
		}
		data = []byte{byte(s.lastPage >> 8), byte(s.lastPage)}

	case canboot.SubjectStartApplication:
		s.started = true

	case canboot.SubjectChipErase:
		for _, p := range s.pages {
			for i := range p {
				p[i] = 0xFF
			}
		}

	case canboot.SubjectGetFuseBits:
		data = append([]byte(nil), s.fuses...)

	default:
		mtype = canboot.TypeError
	}
	number := msg.Number
	s.mu.Unlock()

	if respond {
		s.reply(mtype, msg.Subject, number, data)
	}
}
