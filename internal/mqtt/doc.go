// Package mqtt publishes Home Assistant MQTT discovery messages and
// periodic sensor states so todoagent shows up as a native HA device:
// open todo count, active chat sessions, tokens used today, and when
// the last turn finished.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery configs and an "online"
// birth message; a will message flips availability to "offline" on
// unexpected disconnects. Todo changes on the event bus trigger an
// immediate state refresh.
package mqtt
