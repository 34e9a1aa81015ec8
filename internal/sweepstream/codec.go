package sweepstream

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/rangesweep/internal/scan"
)

// ErrBadFrame reports a stream message that does not hold a frame.
var ErrBadFrame = errors.New("malformed frame message")

// Struct field names of an encoded frame.
const (
	fieldSeq        = "seq"
	fieldCapturedAt = "captured_at"
	fieldPoints     = "points"
)

// EncodeFrame packs a frame into a Struct:
//
//	{"seq": 42, "captured_at": "2026-01-02T15:04:05.123Z",
//	 "points": [x0, y0, d0, x1, y1, d1, ...]}
//
// Points are flattened as x, y, distance triples in millimetres.
func EncodeFrame(f *scan.Frame) *structpb.Struct {
	values := make([]*structpb.Value, 0, 3*len(f.Points))
	for _, p := range f.Points {
		values = append(values,
			structpb.NewNumberValue(p.X),
			structpb.NewNumberValue(p.Y),
			structpb.NewNumberValue(p.DistanceMM))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSeq:        structpb.NewNumberValue(float64(f.Seq)),
		fieldCapturedAt: structpb.NewStringValue(f.CapturedAt.UTC().Format(time.RFC3339Nano)),
		fieldPoints:     structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(s *structpb.Struct) (*scan.Frame, error) {
	fields := s.GetFields()
	seq, ok := fields[fieldSeq].GetKind().(*structpb.Value_NumberValue)
	if !ok || seq.NumberValue < 0 {
		return nil, fmt.Errorf("%w: missing seq", ErrBadFrame)
	}
	f := &scan.Frame{Seq: uint64(seq.NumberValue)}

	if ts := fields[fieldCapturedAt].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: captured_at: %v", ErrBadFrame, err)
		}
		f.CapturedAt = t
	}

	list := fields[fieldPoints].GetListValue().GetValues()
	if len(list)%3 != 0 {
		return nil, fmt.Errorf("%w: %d point values is not a multiple of 3", ErrBadFrame, len(list))
	}
	f.Points = make([]scan.Point, 0, len(list)/3)
	for i := 0; i < len(list); i += 3 {
		f.Points = append(f.Points, scan.Point{
			X:          list[i].GetNumberValue(),
			Y:          list[i+1].GetNumberValue(),
			DistanceMM: list[i+2].GetNumberValue(),
		})
	}
	return f, nil
}
