package meter

import "github.com/clinicware/scangate"

// Multi fans events out to several meters in order.
type Multi []scangate.Meter

var _ scangate.Meter = (Multi)(nil)

func (ms Multi) OnAdmit(e scangate.AdmitEvent) {
	for _, m := range ms {
		m.OnAdmit(e)
	}
}

func (ms Multi) OnResult(e scangate.ResultEvent) {
	for _, m := range ms {
		m.OnResult(e)
	}
}
