package metrics

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordDispatchAndCompletion(t *testing.T) {
	c := New()
	c.RecordDispatch("0", 1000)
	c.RecordDispatch("0", 500)
	c.RecordCompletion("0", 1000)

	assert.Equal(t, uint64(2), c.totalDispatched)
	assert.Equal(t, uint64(1), c.totalCompleted)
	assert.Equal(t, uint64(1500), c.totalBytesSent)
	assert.Equal(t, uint64(1000), c.totalBytesRecv)
}

func TestRecordUnfinished(t *testing.T) {
	c := New()
	c.RecordUnfinished("1")
	assert.Equal(t, uint64(1), c.totalUnfinished)
}

func TestSetPoolGaugesDoesNotPanic(t *testing.T) {
	c := New()
	assert.NotPanics(t, func() {
		c.SetPoolGauges("0", 4, 2)
	})
}

func TestConcurrentRecording(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.RecordDispatch("0", 10)
				c.RecordCompletion("0", 10)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(3000), c.totalDispatched)
	assert.Equal(t, uint64(3000), c.totalCompleted)
}

func TestStartServerServesMetricsEndpoint(t *testing.T) {
	c := New()
	c.RecordDispatch("0", 10)
	c.StartServer("9292")

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:9292/metrics")
	if err != nil {
		t.Skip("could not connect to test server, skipping")
	}
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPrintSummaryDoesNotPanic(t *testing.T) {
	c := New()
	c.RecordDispatch("0", 1000)
	c.RecordCompletion("0", 1000)
	assert.NotPanics(t, func() {
		c.PrintSummary()
	})
}
