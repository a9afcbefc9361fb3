package payment

import "time"

func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

func (b *Broker) SetClock(now func() time.Time) { b.now = now }

var PlatformFee = platformFee
