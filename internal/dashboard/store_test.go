package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/metrics"
)

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "metric", Value: i})
	}

	snapshot := store.snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, 3, snapshot[0].Value)
	assert.Equal(t, 4, snapshot[1].Value)
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3, logrus.TraceLevel)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "resolver", "reserve": "abc", "error": errors.New("boom")}

	require.NoError(t, store.Fire(entry))

	snapshot := store.snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "resolver", snapshot[0].Component)
	assert.Equal(t, "abc", snapshot[0].Fields["reserve"])
	assert.Equal(t, "boom", snapshot[0].Fields["error"])
	assert.NotContains(t, snapshot[0].Fields, "component")
}

func TestLogStoreLevels(t *testing.T) {
	store := newLogStore(3, logrus.WarnLevel)
	assert.ElementsMatch(t, []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}, store.Levels())
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2, logrus.TraceLevel)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		require.NoError(t, store.Fire(entry))
	}
	require.Len(t, store.snapshot(), 2)

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	require.NoError(t, store.Fire(entry))
	assert.Len(t, store.snapshot(), 2, "store accepted entries after close")
}
