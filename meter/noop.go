package meter

import "github.com/clinicware/scangate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ scangate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAdmit(scangate.AdmitEvent)   {}
func (m *NoopMeter) OnResult(scangate.ResultEvent) {}
