/*Package mqtt holds the MQTT transport shared by the provisioning client and the hub connection

Both the Device Provisioning Service and the IoT hub speak MQTT 3.1.1 over TLS on port 8883. A
Transport turns a host name into broker options for the paho client; tests replace it with a
plain TCP transport pointing at the in-process broker of package mqtttest.

Device-to-cloud telemetry is published to

	devices/{device_id}/messages/events/{property_bag}

where the property bag carries the system properties of the message, for example
$.ct=application%2Fjson&$.ce=utf-8 for content type and content encoding.
*/
package mqtt
