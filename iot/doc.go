// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package iot provides the device side of the IoT simulator

A simulated device derives its symmetric key from a group enrollment key, registers itself with
the Azure Device Provisioning Service (DPS) and connects to the IoT hub DPS assigned it to. It then
publishes a temperature/humidity reading every few seconds while an operator can shift the
simulated temperature from the terminal.

The subpackages are

	credentials   derived device keys and shared access signatures
	device        configuration and the lifecycle of one simulated device
	provisioning  the DPS registration handshake over MQTT
	hub           the supervised MQTT session with the IoT hub
	simulator     the sensor baseline, readings and the publish loop
	control       the operator input reader
	mqtt          shared MQTT transport helpers

This package holds the contracts they share: the Publisher interface, connection states and
the error categories.
*/
package iot
