package util

import "github.com/influxdata/influxdb-client-go/api/write"

// MockWriteAPI discards every point. It is the default metrics sink when no
// InfluxDB host is configured.
type MockWriteAPI struct{}

func (m *MockWriteAPI) WriteRecord(line string) {}

func (m *MockWriteAPI) WritePoint(point *write.Point) {}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

// Errors returns nil; a receive from it blocks forever, so callers select on
// it alongside their context.
func (m *MockWriteAPI) Errors() <-chan error { return nil }
