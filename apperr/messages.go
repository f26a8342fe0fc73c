package apperr

import "golang.org/x/text/language"

// The application ships English and Latin American Spanish user-facing
// strings; storage and logging failures never surface to the user at all.
var supported = []language.Tag{
	language.English,
	language.LatinAmericanSpanish,
}

var matcher = language.NewMatcher(supported)

var userMessages = map[language.Tag]map[Type]string{
	language.English: {
		TypeNetwork:        "Connection problem. Please check your network and try again.",
		TypeAuthentication: "Incorrect email or password.",
		TypeAuthorization:  "You do not have permission to perform this action.",
		TypeValidation:     "Some of the entered data is invalid.",
		TypeAPI:            "The service reported an error. Please try again later.",
		TypeNotFound:       "The requested resource was not found.",
		TypeUnexpected:     "An unexpected error occurred. Please try again.",
	},
	language.LatinAmericanSpanish: {
		TypeNetwork:        "Problema de conexión. Verifica tu red e intenta de nuevo.",
		TypeAuthentication: "Correo o contraseña incorrectos.",
		TypeAuthorization:  "No tienes permiso para realizar esta acción.",
		TypeValidation:     "Algunos de los datos ingresados no son válidos.",
		TypeAPI:            "El servicio reportó un error. Intenta más tarde.",
		TypeNotFound:       "No se encontró el recurso solicitado.",
		TypeUnexpected:     "Ocurrió un error inesperado. Intenta de nuevo.",
	},
}

// UserMessage returns the display string for err in the best match for the
// requested language. Unknown languages fall back to English.
func UserMessage(err error, lang language.Tag) string {
	_, idx, _ := matcher.Match(lang)
	return userMessages[supported[idx]][TypeOf(err)]
}
