/*Package provisioning registers a simulated device with the Azure Device Provisioning Service

The client performs exactly one registration over MQTT. It connects to the provisioning endpoint
with the device id as client id and a shared access signature as password, subscribes to

	$dps/registrations/res/#

and publishes the registration request

	$dps/registrations/PUT/iotdps-register/?$rid={request_id}
	{"registrationId": "{device_id}"}

The service answers on $dps/registrations/res/{status_code}/?$rid={request_id}. While the
assignment is in progress the answer is 202 with an operation id and a retry-after hint; the
client then asks for the operation status on

	$dps/registrations/GET/iotdps-get-operationstatus/?$rid={request_id}&operationId={operation_id}

until the operation reaches a terminal status. Polling the operation is part of the single
registration, a rejected or failed registration is never retried.
*/
package provisioning
