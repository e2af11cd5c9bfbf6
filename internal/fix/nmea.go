package fix

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

// Rough user-equivalent range error used to turn HDOP into meters.
const uereMeters = 5.0

// NMEAProvider turns a stream of NMEA 0183 sentences (a serial GPS, a log
// file) into fixes. RMC sentences produce fixes; GGA sentences only refresh
// the accuracy estimate.
type NMEAProvider struct {
	reader io.Reader
	logger logger.Logger
	now    func() time.Time

	once   sync.Once
	stream <-chan Fix
}

func NewNMEAProvider(r io.Reader, log logger.Logger) *NMEAProvider {
	return &NMEAProvider{reader: r, logger: log, now: time.Now}
}

// GetFix returns the next valid fix from the underlying stream.
func (p *NMEAProvider) GetFix(ctx context.Context) (Fix, error) {
	p.once.Do(func() {
		// the stream outlives any single GetFix call
		p.stream = p.Stream(context.Background())
	})

	select {
	case f, ok := <-p.stream:
		if !ok {
			return Fix{}, apperrors.NewLocationError(apperrors.LocationUnknown, io.EOF)
		}
		return f, nil
	case <-ctx.Done():
		return Fix{}, apperrors.NewLocationError(apperrors.LocationTimeout, apperrors.ErrLocationTimeout)
	}
}

// Stream reads sentences until the reader is exhausted or ctx is done. The
// returned channel is closed when reading stops.
func (p *NMEAProvider) Stream(ctx context.Context) <-chan Fix {
	out := make(chan Fix)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(p.reader)
		accuracy := 0.0

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "$") {
				continue
			}

			sentence, err := nmea.Parse(line)
			if err != nil {
				p.logger.Debug("nmea parse error", "error", err, "line", line)
				continue
			}

			switch sentence.DataType() {
			case nmea.TypeGGA:
				m := sentence.(nmea.GGA)
				if m.FixQuality != nmea.Invalid && m.HDOP > 0 {
					accuracy = m.HDOP * uereMeters
				}
			case nmea.TypeRMC:
				m := sentence.(nmea.RMC)
				if m.Validity != nmea.ValidRMC {
					continue
				}
				f, err := Normalize(m.Latitude, m.Longitude, accuracy, p.timestamp(m))
				if err != nil {
					p.logger.Debug("nmea fix rejected", "error", err)
					continue
				}
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			p.logger.Warn("nmea read error", "error", err)
		}
	}()

	return out
}

func (p *NMEAProvider) timestamp(m nmea.RMC) uint64 {
	if !m.Date.Valid || !m.Time.Valid {
		return TimestampFrom(p.now())
	}
	year := 2000 + m.Date.YY
	if m.Date.YY >= 80 {
		year = 1900 + m.Date.YY
	}
	t := time.Date(year, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
	return TimestampFrom(t)
}
