package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"hgu-gateway/internal/logger"
)

// Exception codes returned to clients.
const (
	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03
)

const (
	mbapLen    = 7
	maxPDULen  = 253
	tableWords = 1 << 16
)

// area is one of the four Modbus data tables.
type area uint8

const (
	areaCoils area = iota
	areaDiscreteInputs
	areaHoldingRegisters
	areaInputRegisters
)

// readFunc describes a supported read function code.
type readFunc struct {
	area   area
	bits   bool
	maxQty uint16
}

var readFuncs = map[byte]readFunc{
	0x01: {areaCoils, true, 2000},
	0x02: {areaDiscreteInputs, true, 2000},
	0x03: {areaHoldingRegisters, false, 125},
	0x04: {areaInputRegisters, false, 125},
}

type exception byte

func (e exception) Error() string { return fmt.Sprintf("modbus exception %d", byte(e)) }

// Server is a read-only Modbus TCP slave holding the simulated controller's
// process image. It stands in for the controller in tests and in cmd/plcsim.
type Server struct {
	log      *zap.SugaredLogger
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
	requests atomic.Uint64

	mu    sync.RWMutex
	bits  [2][]bool   // coils, discrete inputs
	words [2][]uint16 // holding, input registers
}

// NewServer allocates full-size tables.
func NewServer(log *zap.SugaredLogger) *Server {
	s := &Server{
		log:  logger.OrNop(log).Named("plcsim"),
		quit: make(chan struct{}),
	}
	for i := range s.bits {
		s.bits[i] = make([]bool, tableWords)
		s.words[i] = make([]uint16, tableWords)
	}
	return s
}

// Listen binds address and serves connections in the background.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l
	s.log.Infow("listening", "addr", l.Addr().String())

	s.wg.Add(1)
	go s.accept()
	return nil
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.log.Warnw("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

// serve answers MBAP frames on conn until the peer leaves or the server
// closes.
func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.log.Debugw("client connected", "remote", remote)

	left := make(chan struct{})
	defer close(left)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-left:
		}
	}()

	var hdr [mbapLen]byte
	for {
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			s.log.Debugw("client gone", "remote", remote, "error", err)
			return
		}
		// length covers the unit id plus the PDU
		n := int(binary.BigEndian.Uint16(hdr[4:6])) - 1
		if binary.BigEndian.Uint16(hdr[2:4]) != 0 || n < 1 || n > maxPDULen {
			s.log.Warnw("dropping malformed frame", "remote", remote)
			return
		}
		pdu := make([]byte, n)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}
		s.requests.Add(1)

		resp := s.reply(pdu)
		frame := make([]byte, mbapLen, mbapLen+len(resp))
		copy(frame[:2], hdr[:2])
		binary.BigEndian.PutUint16(frame[4:6], uint16(len(resp)+1))
		frame[6] = hdr[6]
		if _, err := conn.Write(append(frame, resp...)); err != nil {
			return
		}
	}
}

// reply builds the response PDU for a request PDU.
func (s *Server) reply(pdu []byte) []byte {
	fn := pdu[0]
	rf, ok := readFuncs[fn]
	if !ok {
		return []byte{fn | 0x80, exceptionIllegalFunction}
	}
	data, err := s.read(rf, pdu[1:])
	if err != nil {
		return []byte{fn | 0x80, byte(err.(exception))}
	}
	return append([]byte{fn, byte(len(data))}, data...)
}

func (s *Server) read(rf readFunc, req []byte) ([]byte, error) {
	if len(req) < 4 {
		return nil, exception(exceptionIllegalDataVal)
	}
	start := int(binary.BigEndian.Uint16(req[0:2]))
	qty := int(binary.BigEndian.Uint16(req[2:4]))
	if qty == 0 || qty > int(rf.maxQty) {
		return nil, exception(exceptionIllegalDataVal)
	}
	if start+qty > tableWords {
		return nil, exception(exceptionIllegalDataAddr)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if rf.bits {
		src := s.bitTable(rf.area)[start : start+qty]
		out := make([]byte, (qty+7)/8)
		for i, on := range src {
			if on {
				out[i/8] |= 1 << (i % 8)
			}
		}
		return out, nil
	}
	src := s.wordTable(rf.area)[start : start+qty]
	out := make([]byte, 2*qty)
	for i, w := range src {
		binary.BigEndian.PutUint16(out[2*i:], w)
	}
	return out, nil
}

func (s *Server) bitTable(a area) []bool    { return s.bits[a-areaCoils] }
func (s *Server) wordTable(a area) []uint16 { return s.words[a-areaHoldingRegisters] }

// Addr returns the bound address, useful after Listen("127.0.0.1:0").
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Requests counts answered frames.
func (s *Server) Requests() uint64 { return s.requests.Load() }

// Close stops accepting, drops open connections and waits for them.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// SetCoil sets a coil.
func (s *Server) SetCoil(address uint16, on bool) error {
	s.mu.Lock()
	s.bitTable(areaCoils)[address] = on
	s.mu.Unlock()
	return nil
}

// Coil returns a coil.
func (s *Server) Coil(address uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bitTable(areaCoils)[address]
}

// SetFloat32 stores v in two holding registers, high word first (ABCD).
func (s *Server) SetFloat32(address uint16, v float32) error {
	if int(address)+1 >= tableWords {
		return fmt.Errorf("address %d out of range for float32", address)
	}
	bits := math.Float32bits(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	hr := s.wordTable(areaHoldingRegisters)
	hr[address], hr[address+1] = uint16(bits>>16), uint16(bits)
	return nil
}

// Float32 reads back a value stored with SetFloat32.
func (s *Server) Float32(address uint16) (float32, error) {
	if int(address)+1 >= tableWords {
		return 0, fmt.Errorf("address %d out of range for float32", address)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hr := s.wordTable(areaHoldingRegisters)
	return math.Float32frombits(uint32(hr[address])<<16 | uint32(hr[address+1])), nil
}
