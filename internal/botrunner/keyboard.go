package botrunner

import (
	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/internal/telegramapi"
)

// modelKeyboard renders one button per model, free entries first. Callback
// data carries the model's registry index so selection survives display-name
// changes.
func modelKeyboard(reg catalog.Registry) *telegramapi.InlineKeyboardMarkup {
	var rows [][]telegramapi.InlineKeyboardButton
	appendTier := func(premiumTier bool) {
		for i, m := range reg.Models {
			if m.IsPremium != premiumTier {
				continue
			}
			label := m.DisplayName
			if m.IsPremium {
				label += " 🔒 (Premium)"
			}
			rows = append(rows, []telegramapi.InlineKeyboardButton{{
				Text:         label,
				CallbackData: callbackSetModel(i),
			}})
		}
	}
	appendTier(false)
	appendTier(true)
	return &telegramapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func promptKeyboard(reg catalog.Registry) *telegramapi.InlineKeyboardMarkup {
	var rows [][]telegramapi.InlineKeyboardButton
	for i, p := range reg.Prompts {
		rows = append(rows, []telegramapi.InlineKeyboardButton{{
			Text:         p.Name,
			CallbackData: callbackSetPrompt(i),
		}})
	}
	return &telegramapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func premiumListKeyboard(ids []string) *telegramapi.InlineKeyboardMarkup {
	var rows [][]telegramapi.InlineKeyboardButton
	for _, id := range ids {
		rows = append(rows, []telegramapi.InlineKeyboardButton{{
			Text:         "❌ " + id,
			CallbackData: callbackPremiumRemove(id),
		}})
	}
	rows = append(rows, []telegramapi.InlineKeyboardButton{{
		Text:         "➕ Add user",
		CallbackData: callbackPremiumAdd,
	}})
	return &telegramapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}
