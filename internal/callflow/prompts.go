package callflow

import "fmt"

// Prompt text for every spec.md §4.1 state. German, matching the call
// center's customer-facing language; kept in one file so the conversation
// reads coherently across handlers.
const (
	promptGreet              = "Willkommen beim Notdienst. Wie kann ich Ihnen helfen?"
	promptIntentNotUnderstood = "Entschuldigung, das habe ich nicht verstanden. Geht es um einen Schlüsseldienst, einen Abschleppdienst, oder möchten Sie mit einem Mitarbeiter sprechen?"
	promptAskAddress          = "Bitte nennen Sie mir die Adresse, an der Sie Hilfe benötigen, nach dem Signalton."
	promptAddressProcessing   = "Einen Moment, ich verarbeite Ihre Adresse."
	promptAskSendSMS          = "Ich konnte die Adresse nicht eindeutig bestimmen. Soll ich Ihnen einen Link per SMS schicken, über den Sie Ihren Standort teilen können?"
	promptSMSSent             = "Ich habe Ihnen einen Link per SMS geschickt. Bitte öffnen Sie ihn, um Ihren Standort zu teilen."
	promptAskPLZGeneric       = "Bitte geben Sie Ihre fünfstellige Postleitzahl über die Tastatur ein."
	promptPLZInvalid          = "Das war leider keine gültige Postleitzahl oder liegt außerhalb unseres Einsatzgebiets."
	promptApologyTransfer     = "Ich verbinde Sie jetzt mit einem Mitarbeiter."
	promptApologyNoAgent      = "Es tut mir leid, aktuell ist kein Mitarbeiter erreichbar. Bitte versuchen Sie es später erneut."
	promptTechnicalFailure    = "Es ist ein technischer Fehler aufgetreten. Bitte versuchen Sie es später erneut."
	promptConnecting          = "Danke, ich verbinde Sie jetzt."
	promptParseConnectionDone = "Auf Wiederhören."
)

func promptConfirmAddress(address string) string {
	return "Ich habe folgende Adresse verstanden: " + address + ". Ist das richtig?"
}

func promptAskPLZWithSpoken(spoken string) string {
	if spoken == "" {
		return promptAskPLZGeneric
	}
	return "Ich habe die Postleitzahl " + spoken + " verstanden. Ist das richtig? Bitte bestätigen Sie über die Tastatur mit Ihrer fünfstelligen Postleitzahl."
}

func promptOffer(price, minutes int, providerName string) string {
	return fmt.Sprintf(
		"%s kann in etwa %d Minuten bei Ihnen sein. Der Preis beträgt %d Euro. Möchten Sie verbunden werden?",
		providerName, minutes, price,
	)
}
