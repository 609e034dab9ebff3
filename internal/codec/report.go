// Package codec packs oracle reports into fixed 32-byte big-endian words, the
// layout the reporting workflows sign and transmit.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"

	"InfraSentinel/internal/model"
)

// WordSize is the width of every encoded field.
const WordSize = 32

// Field counts.
const (
	SolvencyWords  = 9
	MilestoneWords = 6
)

var ErrMalformedPayload = eris.New("malformed report payload")

type encoder struct {
	buf []byte
}

func newEncoder(words int) *encoder {
	return &encoder{buf: make([]byte, 0, words*WordSize)}
}

func (e *encoder) bytes32(b [32]byte) {
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) uint(v uint64) {
	var w [WordSize]byte
	binary.BigEndian.PutUint64(w[WordSize-8:], v)
	e.buf = append(e.buf, w[:]...)
}

func (e *encoder) bool(v bool) {
	if v {
		e.uint(1)
		return
	}
	e.uint(0)
}

type decoder struct {
	buf []byte
	pos int
	err error
}

func newDecoder(payload []byte, words int) (*decoder, error) {
	if len(payload) != words*WordSize {
		return nil, eris.Wrapf(ErrMalformedPayload, "want %d bytes, got %d", words*WordSize, len(payload))
	}
	return &decoder{buf: payload}, nil
}

func (d *decoder) next() []byte {
	w := d.buf[d.pos : d.pos+WordSize]
	d.pos += WordSize
	return w
}

func (d *decoder) bytes32() [32]byte {
	var out [32]byte
	copy(out[:], d.next())
	return out
}

// uint reads a word that must fit in bits.
func (d *decoder) uint(field string, bits int) uint64 {
	w := d.next()
	if d.err != nil {
		return 0
	}
	for _, b := range w[:WordSize-8] {
		if b != 0 {
			d.err = eris.Wrapf(ErrMalformedPayload, "%s overflows uint%d", field, bits)
			return 0
		}
	}
	v := binary.BigEndian.Uint64(w[WordSize-8:])
	if bits < 64 && v>>uint(bits) != 0 {
		d.err = eris.Wrapf(ErrMalformedPayload, "%s overflows uint%d", field, bits)
		return 0
	}
	return v
}

func (d *decoder) uint8(field string) uint8 { return uint8(d.uint(field, 8)) }

func (d *decoder) bool(field string) bool {
	v := d.uint(field, 8)
	if d.err == nil && v > 1 {
		d.err = eris.Wrapf(ErrMalformedPayload, "%s is not a bool", field)
	}
	return v == 1
}

// EncodeSolvencyReport packs a solvency report into 9 words.
func EncodeSolvencyReport(r model.SolvencyReport) []byte {
	e := newEncoder(SolvencyWords)
	e.bytes32(r.ProjectID)
	e.uint(uint64(r.OverallScore))
	e.uint(uint64(r.RiskLevel))
	e.uint(uint64(r.FinancialHealth))
	e.uint(uint64(r.CostExposure))
	e.uint(uint64(r.FundingMomentum))
	e.uint(uint64(r.RunwayAdequacy))
	e.bool(r.RescueTriggered)
	e.uint(r.Timestamp)
	return e.buf
}

// DecodeSolvencyReport is the inverse of EncodeSolvencyReport. Field ranges
// beyond the word types are checked at ingestion, not here.
func DecodeSolvencyReport(payload []byte) (model.SolvencyReport, error) {
	d, err := newDecoder(payload, SolvencyWords)
	if err != nil {
		return model.SolvencyReport{}, err
	}
	r := model.SolvencyReport{
		ProjectID:       d.bytes32(),
		OverallScore:    d.uint8("overallScore"),
		RiskLevel:       model.RiskLevel(d.uint8("riskLevel")),
		FinancialHealth: d.uint8("financialHealth"),
		CostExposure:    d.uint8("costExposure"),
		FundingMomentum: d.uint8("fundingMomentum"),
		RunwayAdequacy:  d.uint8("runwayAdequacy"),
		RescueTriggered: d.bool("triggerRescue"),
		Timestamp:       d.uint("timestamp", 64),
	}
	if d.err != nil {
		return model.SolvencyReport{}, d.err
	}
	return r, nil
}

// EncodeMilestoneReport packs a milestone report into 6 words.
func EncodeMilestoneReport(r model.MilestoneReport) []byte {
	e := newEncoder(MilestoneWords)
	e.bytes32(r.ProjectID)
	e.uint(uint64(r.MilestoneID))
	e.uint(uint64(r.Progress))
	e.uint(uint64(r.VerificationScore))
	e.bool(r.Approved)
	e.uint(r.Timestamp)
	return e.buf
}

// DecodeMilestoneReport is the inverse of EncodeMilestoneReport.
func DecodeMilestoneReport(payload []byte) (model.MilestoneReport, error) {
	d, err := newDecoder(payload, MilestoneWords)
	if err != nil {
		return model.MilestoneReport{}, err
	}
	r := model.MilestoneReport{
		ProjectID:         d.bytes32(),
		MilestoneID:       d.uint8("milestoneId"),
		Progress:          d.uint8("progress"),
		VerificationScore: d.uint8("verificationScore"),
		Approved:          d.bool("approved"),
		Timestamp:         d.uint("timestamp", 64),
	}
	if d.err != nil {
		return model.MilestoneReport{}, d.err
	}
	return r, nil
}

// ToHex renders a payload as 0x-prefixed hex.
func ToHex(payload []byte) string {
	return "0x" + hex.EncodeToString(payload)
}

// FromHex parses 0x-prefixed or bare hex.
func FromHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, eris.Wrap(ErrMalformedPayload, err.Error())
	}
	return b, nil
}
