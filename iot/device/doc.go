/*
Package device runs the lifecycle of one simulated device.

Run goes through three phases, each one only if the previous succeeded:

	provision  register with the provisioning service, a status other than "assigned" is fatal
	connect    open the session with the assigned hub
	simulate   publish telemetry while the operator controls the temperature

The simulation ends when the context is cancelled, the operator quits or the hub connection is
lost. The connection is then closed once and the operator input reader is joined before Run
returns. Only a lost connection makes Run fail after the connect phase.
*/
package device
