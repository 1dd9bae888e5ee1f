// Package tgui provides small helpers for building text that is safe to send
// to Telegram with ParseMode="HTML".
//
// Values of type H are already escaped; build them from plain strings with
// Esc, B, Link and friends, and join them with JoinH.
package tgui
