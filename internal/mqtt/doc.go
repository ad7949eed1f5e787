// Package mqtt makes Jarvis a native Home Assistant device over MQTT.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each entity, a birth message ("online") to the availability topic,
// and subscribes to the ask topic. A will message moves the
// availability topic to "offline" on unexpected disconnects.
//
// Sensor states are pushed by [Publisher.PublishStates], which the
// scheduler runs on the configured interval. Timer completions are
// published as HA event entity triggers. Text published to the ask
// topic is answered on the reply topic.
package mqtt
