// Package keystore loads the private_key|target_address list and answers
// "where does this key's balance go".
package keystore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

const Delimiter = "|"

// Record is one line of the key file
type Record struct {
	PrivateKey    string
	TargetAddress string
}

type Options struct {
	// RejectDuplicates fails the load when a private key appears twice.
	// Otherwise the last target wins.
	RejectDuplicates bool
	// Params enables WIF and address validation for that network. nil skips it.
	Params *chaincfg.Params
}

// ParseError points at the offending line of the key file
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("key file line %d: %s", e.Line, e.Reason)
}

type DuplicateKeyError struct {
	Line      int
	FirstLine int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("key file line %d: private key already defined on line %d", e.Line, e.FirstLine)
}

var ErrUnknownKey = errors.New("private key not present in key file")

// Store is immutable after Parse
type Store struct {
	targets    map[string]string
	keys       []string
	duplicates int
}

// Load reads and parses the key file at path
func Load(path string, opts Options) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return Parse(string(data), opts)
}

// Parse builds a Store from raw key file content. Blank lines are skipped.
func Parse(raw string, opts Options) (*Store, error) {
	s := &Store{targets: make(map[string]string)}
	firstSeen := make(map[string]int)

	for i, line := range strings.Split(raw, "\n") {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		rec, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Reason: err.Error()}
		}

		if opts.Params != nil {
			if err := validate(rec, opts.Params); err != nil {
				return nil, &ParseError{Line: lineNo, Reason: err.Error()}
			}
		}

		if first, ok := firstSeen[rec.PrivateKey]; ok {
			if opts.RejectDuplicates {
				return nil, &DuplicateKeyError{Line: lineNo, FirstLine: first}
			}
			s.duplicates++
			s.targets[rec.PrivateKey] = rec.TargetAddress
			continue
		}

		firstSeen[rec.PrivateKey] = lineNo
		s.targets[rec.PrivateKey] = rec.TargetAddress
		s.keys = append(s.keys, rec.PrivateKey)
	}

	return s, nil
}

func parseLine(line string) (Record, error) {
	fields := strings.Split(line, Delimiter)
	if len(fields) != 2 {
		return Record{}, fmt.Errorf("expected private_key%starget_address, got %d field(s)", Delimiter, len(fields))
	}
	rec := Record{
		PrivateKey:    strings.TrimSpace(fields[0]),
		TargetAddress: strings.TrimSpace(fields[1]),
	}
	if rec.PrivateKey == "" {
		return Record{}, errors.New("empty private key")
	}
	if rec.TargetAddress == "" {
		return Record{}, errors.New("empty target address")
	}
	if strings.ContainsAny(rec.PrivateKey, " \t") {
		return Record{}, errors.New("private key contains whitespace")
	}
	return rec, nil
}

// electrum accepts "<script_type>:<wif>" when importing keys
var scriptTypes = map[string]bool{
	"p2pkh":       true,
	"p2wpkh":      true,
	"p2wpkh-p2sh": true,
	"p2sh":        true,
	"p2wsh":       true,
	"p2wsh-p2sh":  true,
}

func validate(rec Record, params *chaincfg.Params) error {
	key := rec.PrivateKey
	if prefix, rest, ok := strings.Cut(key, ":"); ok {
		if !scriptTypes[prefix] {
			return fmt.Errorf("unknown script type %q", prefix)
		}
		key = rest
	}

	wif, err := btcutil.DecodeWIF(key)
	if err != nil {
		return fmt.Errorf("invalid WIF private key: %v", err)
	}
	if !wif.IsForNet(params) {
		return fmt.Errorf("private key is not for %s", params.Name)
	}

	addr, err := btcutil.DecodeAddress(rec.TargetAddress, params)
	if err != nil {
		return fmt.Errorf("invalid target address %q: %v", rec.TargetAddress, err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("target address %q is not for %s", rec.TargetAddress, params.Name)
	}
	return nil
}

// Lookup returns the target address for a private key. Electrum reports keys
// as "<script_type>:<wif>", so a bare WIF in the key file matches that form too.
func (s *Store) Lookup(privateKey string) (string, error) {
	if target, ok := s.targets[privateKey]; ok {
		return target, nil
	}
	if prefix, rest, ok := strings.Cut(privateKey, ":"); ok && scriptTypes[prefix] {
		if target, ok := s.targets[rest]; ok {
			return target, nil
		}
	}
	return "", ErrUnknownKey
}

// PrivateKeys returns every key in file order, each once
func (s *Store) PrivateKeys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *Store) Len() int { return len(s.keys) }

// Duplicates counts lines that redefined an already seen key
func (s *Store) Duplicates() int { return s.duplicates }
