package telegram

import "gopkg.in/telebot.v3"

// Client defines an interface for sending messages to a participant's chat.
// This helps in decoupling the application logic from the specific bot library.
// Chat IDs are the participants' stable external string IDs.
type Client interface {
	SendMessage(chatID string, text string, options *telebot.SendOptions) error
}
