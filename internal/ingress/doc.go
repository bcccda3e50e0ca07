// Package ingress validates inbound driver telemetry and broadcasts it.
//
// Submissions arrive over HTTP (PUT) or MQTT. Validation rules run in order
// and the first failure wins:
//
//  1. driver_id present and non-blank
//  2. state present and non-blank
//  3. lat and lon present (zero is a valid coordinate)
//  4. state is Normal, Drowsy or Asleep (any case)
//  5. lat in [-90, 90], lon in [-180, 180], both finite
//
// Rules 1-3 fail with MissingField, rules 4-5 with InvalidField. Accepted
// updates are stamped by the process clock and broadcast once; nothing is
// stored.
package ingress
