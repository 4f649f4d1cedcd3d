package conversation

// User-facing texts for the registration flow. The bot speaks Portuguese;
// the literal answers ("não", "hoje", "cadastrar", "regada") are part of the
// conversational contract and must not be translated.
const (
	msgUsage         = "Formato inválido! Use: cadastrar [nome da planta]"
	msgAskNickname   = "👋 Vamos cadastrar a planta *%s*!\nEla terá algum apelido? (Se não, responda \"não\")"
	msgAskScientific = "👍 Qual o nome científico de *%s*?"
	msgEmptyAnswer   = "⚠️ Não entendi. Responda com um texto."
	msgAskInterval   = "📏 Qual o intervalo de rega (em dias) para *%s*? (Ex: 2)"
	msgBadInterval   = "⚠️ Informe um número válido para o intervalo em dias."
	msgAskWatered    = "🕒 Quando foi a última rega de *%s*?\nResponda \"hoje\" ou no formato DD/MM/YYYY."
	msgBadDateFormat = "⚠️ Formato inválido! Use \"hoje\" ou DD/MM/YYYY."
	msgBadDate       = "⚠️ Data inválida! Tente novamente."
	msgAskPhoto      = "📸 Você tem uma foto de *%s*? Envie o link ou digite \"não\"."
	msgFlowError     = "⚠️ Erro na conversa. Tente novamente."
	msgStoreError    = "😢 Erro no banco de dados! Tente novamente."
	msgNoPlants      = "⚠️ Nenhuma planta cadastrada ainda!"
	msgNotFound      = "❌ Não encontrei planta com apelido \"%s\"."
	msgWateredNow    = "✅ Planta *%s* atualizada! Regada agora.\n🔄 Próxima rega em: %d dia(s)"
)
