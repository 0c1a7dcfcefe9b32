// Package config parses the declarative block grammar used to configure
// both daemons: a mux config lists sources and the streams each is allowed
// to report; a probe config lists the modules to monitor and where to send
// packets. No example repo carries a dependency
// for this bespoke grammar, so it is parsed with a hand-rolled tokenizer
// built on the standard library's text/scanner — justified stdlib use,
// documented in DESIGN.md.
package config

import (
	"fmt"
	"io"
	"text/scanner"
	"unicode"
)

// StreamConfig is one accepted (type, arg) pair and the archive series it
// is recorded under, as written inside a source's accept block.
type StreamConfig struct {
	Type    string
	Arg     string
	Archive string
}

// SourceConfig is one "source <addr> { accept { ... } }" block.
type SourceConfig struct {
	Addr    string
	Streams []StreamConfig
}

// MuxConfig is a fully parsed mux configuration file.
type MuxConfig struct {
	ListenAddr     string
	SubscriberAddr string
	MetricsAddr    string
	PIDFile        string
	Sources        []SourceConfig
}

// ProbeModuleConfig is one monitored module inside a probe's monitor block.
type ProbeModuleConfig struct {
	Type string
	Arg  string
}

// ProbeConfig is a fully parsed probe configuration file.
type ProbeConfig struct {
	Modules     []ProbeModuleConfig
	Transport   string // "udp" or "tcp"
	Destination string // "host:port"
}

// ParseError reports a grammar violation with its source position.
type ParseError struct {
	Pos scanner.Position
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Pos, e.Msg)
}

func newTokenizer(r io.Reader, name string) *scanner.Scanner {
	var s scanner.Scanner
	s.Init(r)
	s.Filename = name
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanComments | scanner.SkipComments
	// Addresses ("10.0.0.5:2100"), paths ("/var/lib/symon/pg.rrd") and
	// flags ("stream-file") all need to come back as single tokens.
	s.IsIdentRune = func(ch rune, i int) bool {
		return ch == '_' || ch == '-' || ch == '.' || ch == ':' || ch == '/' ||
			unicode.IsLetter(ch) || unicode.IsDigit(ch)
	}
	return &s
}

type tokenizer struct {
	s       *scanner.Scanner
	tok     rune
	curText string

	hasPushback bool
	pushedTok   rune
	pushedText  string
}

func (t *tokenizer) next() rune {
	if t.hasPushback {
		t.hasPushback = false
		t.tok = t.pushedTok
		t.curText = t.pushedText
		return t.tok
	}
	t.tok = t.s.Scan()
	t.curText = t.s.TokenText()
	return t.tok
}

// pushBack returns the current token to be re-read by the next call to
// next(), giving the one-token lookahead the grammar's optional
// "stream-file" clause needs.
func (t *tokenizer) pushBack() {
	t.hasPushback = true
	t.pushedTok = t.tok
	t.pushedText = t.curText
}

func (t *tokenizer) text() string { return t.curText }

func (t *tokenizer) errf(format string, args ...any) error {
	return &ParseError{Pos: t.s.Pos(), Msg: fmt.Sprintf(format, args...)}
}

func (t *tokenizer) expectIdent(what string) (string, error) {
	if t.next() != scanner.Ident {
		return "", t.errf("expected %s, got %q", what, t.text())
	}
	return t.text(), nil
}

func (t *tokenizer) expectRune(r rune) error {
	if t.next() != r {
		return t.errf("expected %q, got %q", r, t.text())
	}
	return nil
}

// ParseMuxConfig parses a mux configuration: a listen address, an optional
// metrics address, and zero or more source blocks.
//
//	mux 0.0.0.0:2100
//	source 10.0.0.5 {
//	    accept {
//	        cpu(cpu0)
//	        proc(postgresql-15) stream-file /var/lib/symon/pg.rrd
//	    }
//	}
func ParseMuxConfig(r io.Reader, name string) (*MuxConfig, error) {
	t := &tokenizer{s: newTokenizer(r, name)}
	cfg := &MuxConfig{}
	seen := map[string]map[string]bool{} // per-source (type,arg) dup check

	for t.next() != scanner.EOF {
		switch t.text() {
		case "mux":
			addr, err := t.expectIdent("listen address")
			if err != nil {
				return nil, err
			}
			cfg.ListenAddr = addr
		case "subscribers":
			addr, err := t.expectIdent("subscriber listen address")
			if err != nil {
				return nil, err
			}
			cfg.SubscriberAddr = addr
		case "metrics":
			addr, err := t.expectIdent("metrics address")
			if err != nil {
				return nil, err
			}
			cfg.MetricsAddr = addr
		case "pidfile":
			path, err := t.expectIdent("pid file path")
			if err != nil {
				return nil, err
			}
			cfg.PIDFile = path
		case "source":
			src, err := parseSourceBlock(t, seen)
			if err != nil {
				return nil, err
			}
			cfg.Sources = append(cfg.Sources, *src)
		default:
			return nil, t.errf("unexpected top-level token %q", t.text())
		}
	}
	return cfg, nil
}

func parseSourceBlock(t *tokenizer, seen map[string]map[string]bool) (*SourceConfig, error) {
	addr, err := t.expectIdent("source address")
	if err != nil {
		return nil, err
	}
	if err := t.expectRune('{'); err != nil {
		return nil, err
	}
	src := &SourceConfig{Addr: addr}
	dup := seen[addr]
	if dup == nil {
		dup = map[string]bool{}
		seen[addr] = dup
	}

	for {
		tok := t.next()
		if tok == '}' {
			break
		}
		if tok != scanner.Ident || t.text() != "accept" {
			return nil, t.errf("expected \"accept\" block, got %q", t.text())
		}
		if err := t.expectRune('{'); err != nil {
			return nil, err
		}
		for {
			inner := t.next()
			if inner == '}' {
				break
			}
			if inner != scanner.Ident {
				return nil, t.errf("expected stream type, got %q", t.text())
			}
			sc, err := parseAcceptEntry(t, t.text())
			if err != nil {
				return nil, err
			}
			key := sc.Type + ":" + sc.Arg
			if dup[key] {
				return nil, t.errf("duplicate stream %s(%s) for source %s", sc.Type, sc.Arg, addr)
			}
			dup[key] = true
			src.Streams = append(src.Streams, *sc)
		}
		if err := t.expectRune('}'); err != nil {
			return nil, err
		}
	}
	return src, nil
}

// parseAcceptEntry parses "type(arg)" optionally followed by
// "stream-file <path>", using one token of lookahead to tell the optional
// clause apart from the next accept entry or the block's closing brace.
func parseAcceptEntry(t *tokenizer, typ string) (*StreamConfig, error) {
	if err := t.expectRune('('); err != nil {
		return nil, err
	}
	arg, err := t.expectIdent("stream argument")
	if err != nil {
		return nil, err
	}
	if err := t.expectRune(')'); err != nil {
		return nil, err
	}
	sc := &StreamConfig{Type: typ, Arg: arg}

	if t.next() == scanner.Ident && t.text() == "stream-file" {
		path, err := t.expectIdent("archive path")
		if err != nil {
			return nil, err
		}
		sc.Archive = path
	} else {
		t.pushBack()
	}
	return sc, nil
}

// ParseProbeConfig parses a probe configuration: a monitor block naming
// modules, and a stream directive naming the transport and destination.
//
//	monitor {
//	    cpu(cpu0)
//	    proc(postgresql-15)
//	}
//	stream udp to 10.0.0.5:2100
func ParseProbeConfig(r io.Reader, name string) (*ProbeConfig, error) {
	t := &tokenizer{s: newTokenizer(r, name)}
	cfg := &ProbeConfig{}

	for t.next() != scanner.EOF {
		switch t.text() {
		case "monitor":
			if err := t.expectRune('{'); err != nil {
				return nil, err
			}
			for {
				tok := t.next()
				if tok == '}' {
					break
				}
				if tok != scanner.Ident {
					return nil, t.errf("expected module type, got %q", t.text())
				}
				typ := t.text()
				if err := t.expectRune('('); err != nil {
					return nil, err
				}
				arg, err := t.expectIdent("module argument")
				if err != nil {
					return nil, err
				}
				if err := t.expectRune(')'); err != nil {
					return nil, err
				}
				cfg.Modules = append(cfg.Modules, ProbeModuleConfig{Type: typ, Arg: arg})
			}
		case "stream":
			transport, err := t.expectIdent("transport")
			if err != nil {
				return nil, err
			}
			if transport != "udp" && transport != "tcp" {
				return nil, t.errf("unknown transport %q", transport)
			}
			to, err := t.expectIdent("\"to\"")
			if err != nil {
				return nil, err
			}
			if to != "to" {
				return nil, t.errf("expected \"to\", got %q", to)
			}
			dest, err := t.expectIdent("destination")
			if err != nil {
				return nil, err
			}
			cfg.Transport = transport
			cfg.Destination = dest
		default:
			return nil, t.errf("unexpected top-level token %q", t.text())
		}
	}
	return cfg, nil
}

