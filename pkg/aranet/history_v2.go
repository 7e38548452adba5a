package aranet

import (
	"context"
	"fmt"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

// v2HeaderSize is param, interval u16, total u16, ago u16, start u16, count u8
const v2HeaderSize = 10

// v2Protocol pages through history with request/read round trips
type v2Protocol struct{}

func (v2Protocol) name() string { return "v2" }

func (v2Protocol) fetch(ctx context.Context, d *Device, param models.HistoryParam, start, end uint16, opts HistoryOptions, progress func(done, total int)) (map[uint16]float64, error) {
	size := param.ValueSize()
	want := int(end) - int(start) + 1
	values := make(map[uint16]float64, want)

	for idx := int(start); idx <= int(end); {
		if err := d.write(ctx, CharCommand, EncodeHistoryV2Request(param, uint16(idx))); err != nil {
			return nil, err
		}

		resp, err := readV2Page(ctx, d, param, opts)
		if err != nil {
			return nil, err
		}
		if len(resp) < v2HeaderSize || resp[9] == 0 {
			break
		}

		pageStart := int(le.Uint16(resp[7:]))
		count := int(resp[9])
		data := resp[v2HeaderSize:]
		for i := 0; i < count; i++ {
			off := i * size
			if off+size > len(data) {
				break
			}
			abs := pageStart + i
			if abs < int(start) || abs > int(end) {
				continue
			}
			v, err := DecodeHistoryValue(param, data[off:off+size])
			if err != nil {
				return nil, err
			}
			values[uint16(abs)] = v
		}
		progress(len(values), want)

		next := pageStart + count
		if next > int(end) {
			break
		}
		if next <= idx {
			return nil, &InvalidDataError{Message: fmt.Sprintf("history page at %d did not advance past index %d", pageStart, idx)}
		}
		idx = next
	}

	return values, nil
}

// readV2Page reads the response to a page request, re-reading while the
// device still returns a page for another parameter.
func readV2Page(ctx context.Context, d *Device, param models.HistoryParam, opts HistoryOptions) ([]byte, error) {
	for retry := 0; ; retry++ {
		if err := sleepContext(ctx, opts.ReadDelay); err != nil {
			return nil, err
		}
		resp, err := d.read(ctx, CharHistoryV2)
		if err != nil {
			return nil, err
		}
		if len(resp) < v2HeaderSize || models.HistoryParam(resp[0]) == param {
			return resp, nil
		}
		if retry >= opts.V2MaxRetries {
			return nil, &InvalidDataError{Message: fmt.Sprintf("history response for parameter %d, expected %d", resp[0], param)}
		}
	}
}
