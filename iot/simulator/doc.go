/*
Package simulator generates and publishes the telemetry of a simulated device.

A Session holds the baseline the readings are derived from. It is shared between the Engine,
which takes one snapshot per tick, and the operator controls, which move the temperature
baseline up and down. Each Reading adds random jitter to the snapshot:

	temperature: baseline + [-1, +1)
	humidity:    baseline + [-1, +2)

Both values are rounded to two decimals. The Engine publishes a reading, waits the configured
interval and repeats until its context is cancelled. A failed publish is logged and counted,
the loop proceeds with the next tick.
*/
package simulator
