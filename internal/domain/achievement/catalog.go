package achievement

import "time"

// DefaultSecretCode unlocks the hidden catalog entry when no code is configured.
const DefaultSecretCode = "NEXTFIT2026"

type seedEntry struct {
	name        string
	description string
	icon        string
	category    Category
	rarity      Rarity
	kind        RuleKind
	threshold   int
	points      int
	xp          int
	minLevel    int
	discount    float64
	item        string
	order       int
}

var defaultCatalog = []seedEntry{
	// check-in
	{"Primeiro Passo", "Faça seu primeiro check-in na academia. Toda jornada começa com o primeiro passo!", "🎯", CategoryCheckIn, RarityCommon, RuleTotalCheckIns, 1, 10, 5, 1, 0, "", 1},
	{"Frequentador", "Complete 10 check-ins na academia. Você está criando um hábito saudável!", "✨", CategoryCheckIn, RarityCommon, RuleTotalCheckIns, 10, 25, 15, 1, 0, "", 2},
	{"Semana de Fogo", "Faça check-in 7 dias consecutivos. Sua dedicação está em chamas!", "🔥", CategoryCheckIn, RarityUncommon, RuleConsecutiveCheckInDays, 7, 50, 25, 1, 5, "", 3},
	{"Duas Semanas Fortes", "Mantenha uma sequência de 14 dias consecutivos de treino!", "💪", CategoryCheckIn, RarityRare, RuleConsecutiveCheckInDays, 14, 75, 40, 3, 0, "", 4},
	{"Mês Completo", "Faça 30 check-ins em um único mês. Você é imparável!", "📅", CategoryCheckIn, RarityRare, RuleCheckInsThisMonth, 30, 100, 50, 5, 0, "Camiseta NextFit Exclusiva", 5},
	{"Centurião", "Alcance 100 check-ins totais na academia. Uma marca histórica!", "💯", CategoryCheckIn, RarityEpic, RuleTotalCheckIns, 100, 200, 100, 10, 0, "", 6},
	{"Mestre da Frequência", "Incrível! 30 dias consecutivos de treino. Você é uma lenda!", "👑", CategoryCheckIn, RarityLegendary, RuleConsecutiveCheckInDays, 30, 500, 250, 15, 15, "Kit Premium NextFit", 7},

	// workout
	{"Primeiro Treino", "Complete seu primeiro treino registrado. O começo de uma transformação!", "🏋️", CategoryWorkout, RarityCommon, RuleTotalWorkouts, 1, 15, 10, 1, 0, "", 10},
	{"Atleta em Formação", "Complete 25 treinos. Você está evoluindo rapidamente!", "🏃", CategoryWorkout, RarityUncommon, RuleTotalWorkouts, 25, 50, 30, 3, 0, "", 11},
	{"Maratonista", "Complete 20 treinos em um único mês. Dedicação impressionante!", "🏅", CategoryWorkout, RarityRare, RuleWorkoutsThisMonth, 20, 100, 50, 5, 0, "", 12},
	{"Guerreiro do Ferro", "Complete 30 treinos em um mês. Você é imbatível!", "⚔️", CategoryWorkout, RarityEpic, RuleWorkoutsThisMonth, 30, 200, 100, 10, 0, "Garrafa NextFit Premium", 13},
	{"Lenda do Iron", "Complete 200 treinos totais. Você é uma inspiração!", "🦾", CategoryWorkout, RarityLegendary, RuleTotalWorkouts, 200, 500, 250, 20, 10, "", 14},

	// payment
	{"Pontualidade", "Pague 3 mensalidades consecutivas em dia. Responsabilidade em ação!", "💰", CategoryPayment, RarityUncommon, RuleOnTimePaymentsStreak, 3, 75, 30, 1, 0, "", 20},
	{"Semestral Perfeito", "6 meses de pagamentos em dia. Exemplo de compromisso!", "💎", CategoryPayment, RarityRare, RuleOnTimePaymentsStreak, 6, 150, 75, 5, 5, "", 21},
	{"Cliente VIP", "12 meses consecutivos de pagamentos em dia. Você é VIP!", "⭐", CategoryPayment, RarityLegendary, RuleOnTimePaymentsStreak, 12, 500, 200, 12, 10, "1 Mês Grátis", 22},

	// tenure
	{"Iniciante", "Complete 1 mês como aluno. A semente foi plantada!", "🌱", CategoryTenure, RarityCommon, RuleMonthsActive, 1, 25, 15, 1, 0, "", 30},
	{"Trimestral", "3 meses de academia. Você está criando raízes!", "🌿", CategoryTenure, RarityUncommon, RuleMonthsActive, 3, 75, 40, 3, 0, "", 31},
	{"Semestral", "6 meses de dedicação. Meio ano de evolução constante!", "🌳", CategoryTenure, RarityRare, RuleMonthsActive, 6, 150, 75, 6, 0, "Mochila NextFit", 32},
	{"Veterano", "1 ano completo de academia. Você é parte da família NextFit!", "🏆", CategoryTenure, RarityEpic, RuleMonthsActive, 12, 500, 250, 12, 10, "Certificado de Veterano + Brinde Especial", 33},
	{"Lenda Viva", "2 anos de academia! Você é uma lenda viva do NextFit!", "🦁", CategoryTenure, RarityLegendary, RuleMonthsActive, 24, 1000, 500, 20, 20, "Kit Completo NextFit Premium", 34},

	// referral
	{"Embaixador", "Indique 1 amigo que se matriculou. Obrigado por compartilhar!", "🤝", CategoryReferral, RarityUncommon, RuleReferralCount, 1, 50, 25, 1, 0, "", 40},
	{"Influenciador Bronze", "Indique 3 amigos que se matricularam. Você está fazendo a diferença!", "🥉", CategoryReferral, RarityRare, RuleReferralCount, 3, 150, 75, 3, 5, "", 41},
	{"Indicador de Ouro", "Indique 5 amigos que se matricularam. Você é ouro!", "🥇", CategoryReferral, RarityEpic, RuleReferralCount, 5, 300, 150, 5, 0, "1 Mês Grátis", 42},
	{"Super Influenciador", "Indique 10 amigos! Você é um verdadeiro embaixador NextFit!", "👑", CategoryReferral, RarityLegendary, RuleReferralCount, 10, 1000, 500, 10, 30, "Kit VIP + 3 Meses Grátis", 43},
}

// DefaultCatalog returns the stock NextFit achievements plus the hidden
// secret-code entry. Each call produces fresh ids.
func DefaultCatalog(secretCode string, now time.Time) ([]*Definition, error) {
	if secretCode == "" {
		secretCode = DefaultSecretCode
	}

	defs := make([]*Definition, 0, len(defaultCatalog)+1)
	for _, e := range defaultCatalog {
		draft := Draft{
			Name:         e.name,
			Description:  e.description,
			Icon:         e.icon,
			Category:     e.category,
			Rarity:       e.rarity,
			Rule:         NewRule(e.kind, e.threshold),
			Points:       e.points,
			BonusXP:      e.xp,
			RewardItem:   e.item,
			MinLevel:     e.minLevel,
			Visible:      true,
			DisplayOrder: e.order,
		}
		if e.discount > 0 {
			d := e.discount
			draft.DiscountPercent = &d
		}
		def, err := NewDefinition(draft, now)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	secret, err := NewSecretRule(secretCode)
	if err != nil {
		return nil, err
	}
	def, err := NewDefinition(Draft{
		Name:         "Conquista Secreta",
		Description:  "???",
		Icon:         "🎁",
		Category:     CategorySpecial,
		Rarity:       RarityLegendary,
		Rule:         secret,
		Points:       777,
		BonusXP:      333,
		RewardItem:   "Prêmio Surpresa",
		MinLevel:     1,
		Visible:      false,
		DisplayOrder: 999,
	}, now)
	if err != nil {
		return nil, err
	}
	return append(defs, def), nil
}
