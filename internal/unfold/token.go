package unfold

import (
	"fmt"
	"unicode/utf8"
)

// TokenKind identifies the kind of a Token.
type TokenKind int

const (
	// TokenPrintable is one character cell (an ASCII byte, a UTF-8 sequence,
	// or a single invalid byte passed through as is).
	TokenPrintable TokenKind = iota
	// TokenNewline is a line feed.
	TokenNewline
	// TokenCarriageReturn is a carriage return.
	TokenCarriageReturn
	// TokenCursorMove moves the cursor within the current line.
	TokenCursorMove
	// TokenEraseLine erases part of the current line.
	TokenEraseLine
	// TokenSGR is a Select Graphic Rendition sequence (colors, styles).
	TokenSGR
	// TokenUnknown is any other control sequence. It has no modeled effect.
	TokenUnknown
)

// String returns a human-readable kind name.
func (k TokenKind) String() string {
	switch k {
	case TokenPrintable:
		return "printable"
	case TokenNewline:
		return "newline"
	case TokenCarriageReturn:
		return "carriage-return"
	case TokenCursorMove:
		return "cursor-move"
	case TokenEraseLine:
		return "erase-line"
	case TokenSGR:
		return "sgr"
	case TokenUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Direction is the direction of a TokenCursorMove.
type Direction int

const (
	// Forward moves N columns right (CSI n C).
	Forward Direction = iota
	// Back moves N columns left (CSI n D, backspace).
	Back
	// Column moves to the absolute zero-based column N (CSI n G).
	Column
)

// EraseMode is the parameter of a TokenEraseLine.
type EraseMode int

const (
	// EraseToEnd erases from the cursor to the end of the line (CSI 0 K).
	EraseToEnd EraseMode = iota
	// EraseToStart erases from the start of the line to the cursor (CSI 1 K).
	EraseToStart
	// EraseAll erases the whole line (CSI 2 K).
	EraseAll
)

// Token is one unit of the input stream.
type Token struct {
	Kind TokenKind
	// Raw holds the bytes the token was read from.
	Raw string
	// Dir and N describe a TokenCursorMove.
	Dir Direction
	N   int
	// Erase describes a TokenEraseLine.
	Erase EraseMode
}

const (
	esc = 0x1b

	// Longest control sequence kept in memory. Longer sequences are still
	// consumed up to their final byte, only their bytes are not stored.
	maxSequence = 256
	maxString   = 4096
	maxParam    = 1 << 16
	maxParams   = 32
)

type tokState int

const (
	stateGround tokState = iota
	stateEscape
	stateEscapeInter
	stateCSI
	stateString
	stateStringEscape
)

// Tokenizer splits a byte stream into Tokens. It keeps partial UTF-8
// characters and partial escape sequences across calls to Feed, so input can
// be split at arbitrary chunk boundaries.
type Tokenizer struct {
	state tokState

	seq      []byte
	params   []int
	private  bool
	inter    bool
	overflow bool

	utf8Buf []byte
}

// NewTokenizer returns a Tokenizer in the ground state.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		seq:     make([]byte, 0, 32),
		params:  make([]int, 0, 8),
		utf8Buf: make([]byte, 0, utf8.UTFMax),
	}
}

// Feed tokenizes data and calls emit for every complete token.
func (t *Tokenizer) Feed(data []byte, emit func(Token)) {
	for _, b := range data {
		t.processByte(b, emit)
	}
}

// Flush ends the stream. A partial UTF-8 character is emitted as a printable
// token holding its raw bytes; a partial escape sequence is dropped.
func (t *Tokenizer) Flush(emit func(Token)) {
	if len(t.utf8Buf) > 0 {
		emit(Token{Kind: TokenPrintable, Raw: string(t.utf8Buf)})
		t.utf8Buf = t.utf8Buf[:0]
	}
	t.reset()
}

// pending reports whether a partial character or sequence is buffered.
func (t *Tokenizer) pending() bool {
	return t.state != stateGround || len(t.utf8Buf) > 0
}

func (t *Tokenizer) reset() {
	t.state = stateGround
	t.seq = t.seq[:0]
	t.params = t.params[:0]
	t.private = false
	t.inter = false
	t.overflow = false
}

func (t *Tokenizer) processByte(b byte, emit func(Token)) {
	switch t.state {
	case stateGround:
		t.processGround(b, emit)
	case stateEscape:
		t.processEscape(b, emit)
	case stateEscapeInter:
		t.processEscapeInter(b, emit)
	case stateCSI:
		t.processCSI(b, emit)
	case stateString:
		t.processString(b, emit)
	case stateStringEscape:
		t.processStringEscape(b, emit)
	}
}

func (t *Tokenizer) processGround(b byte, emit func(Token)) {
	if len(t.utf8Buf) > 0 {
		if b >= 0x80 && b < 0xC0 {
			t.utf8Buf = append(t.utf8Buf, b)
			if utf8.FullRune(t.utf8Buf) {
				emit(Token{Kind: TokenPrintable, Raw: string(t.utf8Buf)})
				t.utf8Buf = t.utf8Buf[:0]
			}
			return
		}
		// Truncated sequence: pass the bytes through and handle b normally.
		emit(Token{Kind: TokenPrintable, Raw: string(t.utf8Buf)})
		t.utf8Buf = t.utf8Buf[:0]
	}

	switch {
	case b == esc:
		t.reset()
		t.state = stateEscape
		t.seq = append(t.seq, b)
	case b == '\n':
		emit(Token{Kind: TokenNewline, Raw: "\n"})
	case b == '\r':
		emit(Token{Kind: TokenCarriageReturn, Raw: "\r"})
	case b == '\b':
		emit(Token{Kind: TokenCursorMove, Raw: "\b", Dir: Back, N: 1})
	case b >= 0x80:
		t.utf8Buf = append(t.utf8Buf, b)
		if utf8.FullRune(t.utf8Buf) {
			// Invalid lead byte, one cell of its own.
			emit(Token{Kind: TokenPrintable, Raw: string(t.utf8Buf)})
			t.utf8Buf = t.utf8Buf[:0]
		}
	default:
		emit(Token{Kind: TokenPrintable, Raw: string(rune(b))})
	}
}

func (t *Tokenizer) processEscape(b byte, emit func(Token)) {
	switch {
	case b == '[':
		t.seq = append(t.seq, b)
		t.state = stateCSI
	case b == ']', b == 'P', b == 'X', b == '^', b == '_':
		// OSC, DCS, SOS, PM and APC strings run until BEL or ST.
		t.seq = append(t.seq, b)
		t.state = stateString
	case b == esc:
		// Lone ESC followed by another ESC.
		t.abort(emit)
		t.state = stateEscape
		t.seq = append(t.seq, b)
	case b >= 0x20 && b <= 0x2F:
		t.seq = append(t.seq, b)
		t.state = stateEscapeInter
	case b >= 0x30 && b <= 0x7E:
		t.seq = append(t.seq, b)
		t.finish(Token{Kind: TokenUnknown}, emit)
	default:
		t.abort(emit)
		t.processGround(b, emit)
	}
}

func (t *Tokenizer) processEscapeInter(b byte, emit func(Token)) {
	switch {
	case b >= 0x20 && b <= 0x2F:
		t.store(b, maxSequence)
	case b >= 0x30 && b <= 0x7E:
		t.store(b, maxSequence)
		t.finish(Token{Kind: TokenUnknown}, emit)
	default:
		t.abort(emit)
		t.processGround(b, emit)
	}
}

func (t *Tokenizer) processCSI(b byte, emit func(Token)) {
	switch {
	case b >= '0' && b <= '9':
		t.store(b, maxSequence)
		if len(t.params) == 0 {
			t.params = append(t.params, 0)
		}
		last := len(t.params) - 1
		if t.params[last] < maxParam {
			t.params[last] = t.params[last]*10 + int(b-'0')
		}
	case b == ';' || b == ':':
		t.store(b, maxSequence)
		if len(t.params) == 0 {
			t.params = append(t.params, 0)
		}
		if len(t.params) < maxParams {
			t.params = append(t.params, 0)
		}
	case b >= 0x3C && b <= 0x3F: // private markers < = > ?
		t.store(b, maxSequence)
		t.private = true
	case b >= 0x20 && b <= 0x2F:
		t.store(b, maxSequence)
		t.inter = true
	case b >= 0x40 && b <= 0x7E:
		t.store(b, maxSequence)
		t.finish(t.classifyCSI(b), emit)
	default:
		t.abort(emit)
		t.processGround(b, emit)
	}
}

func (t *Tokenizer) processString(b byte, emit func(Token)) {
	switch b {
	case 0x07: // BEL terminates OSC
		t.store(b, maxString)
		t.finish(Token{Kind: TokenUnknown}, emit)
	case esc:
		t.store(b, maxString)
		t.state = stateStringEscape
	case '\n':
		// An unterminated string must not swallow the rest of the stream.
		t.abort(emit)
		t.processGround(b, emit)
	default:
		t.store(b, maxString)
	}
}

func (t *Tokenizer) processStringEscape(b byte, emit func(Token)) {
	if b == '\\' {
		t.store(b, maxString)
		t.finish(Token{Kind: TokenUnknown}, emit)
		return
	}
	// ESC ended the string and starts a new sequence.
	if !t.overflow {
		t.seq = t.seq[:len(t.seq)-1]
	}
	t.finish(Token{Kind: TokenUnknown}, emit)
	t.state = stateEscape
	t.seq = append(t.seq, esc)
	t.processEscape(b, emit)
}

func (t *Tokenizer) store(b byte, limit int) {
	if len(t.seq) >= limit {
		t.overflow = true
		return
	}
	t.seq = append(t.seq, b)
}

// finish emits tok with the collected sequence bytes and returns to ground.
func (t *Tokenizer) finish(tok Token, emit func(Token)) {
	if t.overflow && tok.Kind != TokenUnknown {
		tok = Token{Kind: TokenUnknown}
	}
	tok.Raw = string(t.seq)
	t.reset()
	emit(tok)
}

// abort ends a sequence that cannot be completed.
func (t *Tokenizer) abort(emit func(Token)) {
	t.finish(Token{Kind: TokenUnknown}, emit)
}

func (t *Tokenizer) classifyCSI(final byte) Token {
	if t.private || t.inter {
		return Token{Kind: TokenUnknown}
	}
	switch final {
	case 'm':
		return Token{Kind: TokenSGR}
	case 'C':
		return Token{Kind: TokenCursorMove, Dir: Forward, N: t.param(0, 1)}
	case 'D':
		return Token{Kind: TokenCursorMove, Dir: Back, N: t.param(0, 1)}
	case 'G':
		return Token{Kind: TokenCursorMove, Dir: Column, N: t.param(0, 1) - 1}
	case 'K':
		if len(t.params) > 1 {
			return Token{Kind: TokenUnknown}
		}
		mode := 0
		if len(t.params) == 1 {
			mode = t.params[0]
		}
		switch mode {
		case 0:
			return Token{Kind: TokenEraseLine, Erase: EraseToEnd}
		case 1:
			return Token{Kind: TokenEraseLine, Erase: EraseToStart}
		case 2:
			return Token{Kind: TokenEraseLine, Erase: EraseAll}
		}
	}
	return Token{Kind: TokenUnknown}
}

// param returns parameter index, or defaultValue if it is absent or zero.
func (t *Tokenizer) param(index, defaultValue int) int {
	if index < len(t.params) && t.params[index] > 0 {
		return t.params[index]
	}
	return defaultValue
}
