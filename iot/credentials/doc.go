/*Package credentials implements the symmetric key attestation of simulated devices

Devices of a group enrollment do not carry their own secret. Each device derives it from the
group's primary key instead:

	deviceKey = base64( HMAC-SHA256( base64decode(groupKey), deviceID ) )

The derived key is what the provisioning service and the IoT hub expect as proof of identity.
It never travels on the wire; it signs shared access signatures (SAS tokens), which are used as
MQTT passwords:

	SharedAccessSignature sr={url-encoded resource}&sig={url-encoded signature}&se={expiry}[&skn={policy}]

The signature is the base64 HMAC-SHA256, keyed with the decoded device key, over the url-encoded
resource URI, a newline and the expiry in unix seconds. For the provisioning service the resource
is "{idScope}/registrations/{deviceID}" and the policy name is "registration". For the IoT hub the
resource is "{hubHost}/devices/{deviceID}" without a policy.
*/
package credentials
