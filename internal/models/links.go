package models

import "fmt"

// MessageLink builds the t.me deep link for a message.
func MessageLink(chatID, msgID int64) string {
	return fmt.Sprintf("https://t.me/c/%d/%d", chatID, msgID)
}
