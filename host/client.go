// Package host implements the host side of the CAN bootloader: a client
// that identifies a board, streams firmware pages in message blocks and
// starts the flashed application.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avrkit/canboot"
)

// BoardInfo describes a connected bootloader as reported by Identify.
type BoardInfo struct {
	BootloaderType uint8
	Version        uint8
	PageSize       int // flash page size in bytes
	Pages          int // number of flash pages
}

func (b BoardInfo) String() string {
	return fmt.Sprintf("bootloader T%d v%d, %d pages [%d byte]",
		b.BootloaderType, b.Version, b.Pages, b.PageSize)
}

// pageSizes maps the page size code of the identify response to bytes.
var pageSizes = map[uint8]int{0: 32, 1: 64, 2: 128, 3: 256}

// Client talks the bootloader protocol to one board.
//
// It keeps the per-board message numbering, retransmits requests after a
// timeout and resynchronizes the numbering when the board reports a
// mismatch.
type Client struct {
	bus      canboot.Bus
	mux      *canboot.Mux
	board    uint8
	log      *slog.Logger
	timeout  time.Duration
	attempts int

	number uint8
	info   *BoardInfo
}

// NewClient creates a client for the board with the given identifier. The
// mux must be bound to the same bus; responses are awaited through it so
// other consumers of the bus keep receiving. A nil logger falls back to
// slog.Default().
func NewClient(bus canboot.Bus, mux *canboot.Mux, boardID uint8, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		bus:      bus,
		mux:      mux,
		board:    boardID,
		log:      logger,
		timeout:  500 * time.Millisecond,
		attempts: 2,
	}
}

// SetRetry overrides the per-request response timeout and the number of
// transmission attempts. attempts <= 0 retries until the context ends.
func (c *Client) SetRetry(timeout time.Duration, attempts int) {
	c.timeout = timeout
	c.attempts = attempts
}

// Board returns the info from the last successful Identify, or nil.
func (c *Client) Board() *BoardInfo { return c.info }

// startOfBlock builds the data counter for the first message of a block of n
// messages.
func startOfBlock(n int) uint8 {
	return canboot.StartOfBlockMask | uint8(n-1)
}

// send transmits one request. With wantResponse it waits for the board's
// answer, retransmitting up to the configured attempts; without, it returns
// as soon as the frame is on the bus. Either way the message number
// advances.
func (c *Client) send(ctx context.Context, subject canboot.Subject, data []byte, counter uint8, wantResponse bool) (canboot.Message, error) {
	msg := canboot.Message{
		BoardID:     c.board,
		Type:        canboot.TypeRequest,
		Subject:     subject,
		Number:      c.number,
		DataCounter: counter,
		Data:        data,
	}

	if !wantResponse {
		f, err := msg.Encode(canboot.RequestID)
		if err != nil {
			return canboot.Message{}, err
		}
		if err := c.bus.Send(f); err != nil {
			return canboot.Message{}, err
		}
		c.number++
		return canboot.Message{}, nil
	}

	ch, cancel := c.mux.Subscribe(canboot.ResponsesFor(c.board), 16)
	defer cancel()

	for attempt := 0; c.attempts <= 0 || attempt < c.attempts; attempt++ {
		// The number may have been resynchronized by a previous attempt.
		msg.Number = c.number
		f, err := msg.Encode(canboot.RequestID)
		if err != nil {
			return canboot.Message{}, err
		}
		if err := c.bus.Send(f); err != nil {
			return canboot.Message{}, err
		}

		timer := time.NewTimer(c.timeout)
	wait:
		for {
			select {
			case rf, ok := <-ch:
				if !ok {
					timer.Stop()
					return canboot.Message{}, canboot.ErrClosed
				}
				resp, err := canboot.DecodeMessage(rf)
				if err != nil {
					continue
				}
				if resp.Subject != subject {
					c.log.Debug("discarding stale response",
						"got", resp.String(), "want", msg.String())
					continue
				}
				switch resp.Type {
				case canboot.TypeSuccess:
					timer.Stop()
					c.number++
					return resp, nil
				case canboot.TypeWrongNumber:
					c.log.Warn("message number mismatch",
						"board", resp.Number, "local", msg.Number)
					// Adopt the board's numbering only at the start of a
					// session; mid-transfer a mismatch means lost frames.
					if msg.Number == 0 {
						c.number = resp.Number
					}
					timer.Stop()
					break wait
				case canboot.TypeError:
					timer.Stop()
					return resp, fmt.Errorf("host: board 0x%x reported failure for %s", c.board, subject)
				default:
					continue
				}
			case <-timer.C:
				break wait
			case <-ctx.Done():
				timer.Stop()
				return canboot.Message{}, ctx.Err()
			}
		}
	}
	return canboot.Message{}, fmt.Errorf("host: no response after %d attempts sending %s", c.attempts, msg)
}

// Identify queries the board until it answers and decodes the returned
// bootloader information. Boards sit in the bootloader only briefly after
// reset, so this hammers with a short timeout until the context ends.
func (c *Client) Identify(ctx context.Context) (BoardInfo, error) {
	timeout, attempts := c.timeout, c.attempts
	c.timeout, c.attempts = 100*time.Millisecond, 10
	defer func() { c.timeout, c.attempts = timeout, attempts }()

	var resp canboot.Message
	for {
		var err error
		resp, err = c.send(ctx, canboot.SubjectIdentify, nil, startOfBlock(1), true)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return BoardInfo{}, ctx.Err()
		}
		if err == canboot.ErrClosed {
			return BoardInfo{}, err
		}
	}

	if len(resp.Data) < 4 {
		return BoardInfo{}, fmt.Errorf("host: short identify response: %s", resp)
	}
	size, ok := pageSizes[resp.Data[1]]
	if !ok {
		return BoardInfo{}, fmt.Errorf("host: unknown page size code %d", resp.Data[1])
	}
	info := BoardInfo{
		BootloaderType: resp.Data[0] >> 4,
		Version:        resp.Data[0] & 0x0F,
		PageSize:       size,
		Pages:          int(resp.Data[2])<<8 | int(resp.Data[3]),
	}
	c.info = &info
	c.log.Info("board identified", "board", c.board, "info", info.String())
	return info, nil
}

// SetAddress positions the board's page buffer cursor at the given page and
// 4-byte word offset.
func (c *Client) SetAddress(ctx context.Context, page, offset int) error {
	data := []byte{byte(page >> 8), byte(page), 0, byte(offset)}
	_, err := c.send(ctx, canboot.SubjectSetAddress, data, startOfBlock(1), true)
	return err
}

// ProgramPage writes one page of flash. Data shorter than the page is padded
// with 0xFF.
//
// The page is streamed in blocks of up to 64 messages with a single
// acknowledge at the end of each block; on an error the block size is halved
// until single acknowledged messages remain, and only then does the error
// propagate.
func (c *Client) ProgramPage(ctx context.Context, page int, data []byte, addressSet bool) error {
	if c.info == nil {
		return fmt.Errorf("host: board not identified")
	}
	pageSize := c.info.PageSize
	if len(data) > pageSize {
		return fmt.Errorf("host: page data %d bytes exceeds page size %d", len(data), pageSize)
	}
	if len(data) < pageSize {
		padded := make([]byte, pageSize)
		copy(padded, data)
		for i := len(data); i < pageSize; i++ {
			padded[i] = 0xFF
		}
		data = padded
	}

	remaining := pageSize / 4 // messages left, 4 bytes each
	blockSize := 64
	offset := 0
	var answer canboot.Message

	for remaining > 0 {
		err := func() error {
			if !addressSet {
				if err := c.SetAddress(ctx, page, offset); err != nil {
					return err
				}
			}
			if blockSize > remaining {
				blockSize = remaining
			}

			var err error
			if blockSize == 1 {
				answer, err = c.send(ctx, canboot.SubjectData,
					data[offset*4:offset*4+4], startOfBlock(1), true)
				return err
			}

			i := offset
			// Start of a new block; no acknowledge until the last message.
			if _, err = c.send(ctx, canboot.SubjectData,
				data[i*4:i*4+4], startOfBlock(blockSize), false); err != nil {
				return err
			}
			for k := blockSize - 2; k > 0; k-- {
				i++
				if _, err = c.send(ctx, canboot.SubjectData,
					data[i*4:i*4+4], uint8(k), false); err != nil {
					return err
				}
			}
			i++
			answer, err = c.send(ctx, canboot.SubjectData, data[i*4:i*4+4], 0, true)
			return err
		}()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if blockSize > 1 {
				blockSize /= 2
				c.log.Warn("block transfer failed, shrinking",
					"page", page, "block_size", blockSize, "error", err)
				// The board's buffer position is unknown now.
				addressSet = false
				select {
				case <-time.After(300 * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			return err
		}

		remaining -= blockSize
		offset += blockSize
		addressSet = true
	}

	if len(answer.Data) < 2 {
		return fmt.Errorf("host: short page acknowledge: %s", answer)
	}
	returned := int(answer.Data[0])<<8 | int(answer.Data[1])
	if returned != page {
		return fmt.Errorf("host: board acknowledged page %d, wrote %d", returned, page)
	}
	return nil
}

// Program flashes the whole image page by page. progress, if non-nil, is
// called after each written page with (written, total).
func (c *Client) Program(ctx context.Context, image []byte, progress func(done, total int)) error {
	if c.info == nil {
		if _, err := c.Identify(ctx); err != nil {
			return err
		}
	}
	pageSize := c.info.PageSize
	pages := (len(image) + pageSize - 1) / pageSize
	if pages > c.info.Pages {
		return fmt.Errorf("host: image needs %d pages, board has %d", pages, c.info.Pages)
	}

	c.log.Info("writing image", "bytes", len(image), "pages", pages)
	start := time.Now()
	addressSet := false
	for i := 0; i < pages; i++ {
		end := (i + 1) * pageSize
		if end > len(image) {
			end = len(image)
		}
		if err := c.ProgramPage(ctx, i, image[i*pageSize:end], addressSet); err != nil {
			return err
		}
		addressSet = true
		if progress != nil {
			progress(i+1, pages)
		}
	}
	c.log.Info("image written", "pages", pages, "elapsed", time.Since(start))
	return nil
}

// StartApplication leaves the bootloader and jumps into the flashed
// application.
func (c *Client) StartApplication(ctx context.Context) error {
	_, err := c.send(ctx, canboot.SubjectStartApplication, nil, startOfBlock(1), true)
	return err
}

// ChipErase wipes the application flash. Only the bigger bootloader builds
// answer this.
func (c *Client) ChipErase(ctx context.Context) error {
	_, err := c.send(ctx, canboot.SubjectChipErase, nil, startOfBlock(1), true)
	return err
}

// ReadFuseBits returns the fuse bytes. Only the bigger bootloader builds
// answer this.
func (c *Client) ReadFuseBits(ctx context.Context) ([]byte, error) {
	resp, err := c.send(ctx, canboot.SubjectGetFuseBits, nil, startOfBlock(1), true)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
