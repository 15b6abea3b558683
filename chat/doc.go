// Package chat decodes Twitch IRC traffic and decides what gets logged.
//
// It provides three pieces:
//   - ParseLine: decodes a raw IRCv3 line (tags, prefix, command, params) into an Event.
//   - Classify: routes an Event to the record persisted in a channel's log file
//     (PRIVMSG, CLEARCHAT, CLEARMSG, ROOMSTATE, USERNOTICE) or to the print-only path.
//   - TwitchTransport: wraps a go-twitch-irc client, forwarding every received line as an
//     Event and accepting JOIN/PART directives for live channel changes.
//
// Credentials: with TWITCH_BOT_USERNAME and TWITCH_OAUTH_TOKEN unset the transport logs in
// anonymously, which is enough to read chat.
package chat
