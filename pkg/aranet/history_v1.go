package aranet

import (
	"context"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"go.uber.org/zap"
)

// v1HeaderSize is param u8, start u16, count u8
const v1HeaderSize = 4

// v1Protocol requests a range and collects the notifications it triggers
type v1Protocol struct{}

func (v1Protocol) name() string { return "v1" }

func (v1Protocol) fetch(ctx context.Context, d *Device, param models.HistoryParam, start, end uint16, opts HistoryOptions, progress func(done, total int)) (map[uint16]float64, error) {
	size := param.ValueSize()
	want := int(end) - int(start) + 1
	values := make(map[uint16]float64, want)

	packets := make(chan []byte, 256)
	unsubscribe, err := d.subscribe(ctx, CharHistoryV1, func(b []byte) {
		select {
		case packets <- b:
		default:
			d.logger.Warn("history notification dropped", zap.Stringer("param", param))
		}
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unsubscribe(); err != nil {
			d.logger.Debug("failed to unsubscribe from history", zap.Error(err))
		}
	}()

	if err := d.write(ctx, CharCommand, EncodeHistoryV1Request(param, start, uint16(want))); err != nil {
		return nil, err
	}

	stalls := 0
	timer := time.NewTimer(opts.V1NotificationTimeout)
	defer timer.Stop()

	for len(values) < want {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			stalls++
			if stalls > opts.V1MaxStalls {
				return nil, &TimeoutError{
					Operation: "history notifications",
					Duration:  time.Duration(stalls) * opts.V1NotificationTimeout,
				}
			}
			d.logger.Debug("waiting for history notifications", zap.Int("stalls", stalls), zap.Int("received", len(values)))
			timer.Reset(opts.V1NotificationTimeout)

		case b := <-packets:
			if len(b) < v1HeaderSize || models.HistoryParam(b[0]) != param {
				continue
			}
			stalls = 0
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(opts.V1NotificationTimeout)

			pktStart := int(le.Uint16(b[1:]))
			count := int(b[3])
			if count == 0 {
				return values, nil
			}
			data := b[v1HeaderSize:]
			for i := 0; i < count; i++ {
				off := i * size
				if off+size > len(data) {
					break
				}
				abs := pktStart + i
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
		}
	}

	return values, nil
}
