package bot

import (
	"aegis-community/internal/antinuke"

	"github.com/bwmarrin/discordgo"
)

func localized(en, fr, es string) map[discordgo.Locale]string {
	return map[discordgo.Locale]string{
		discordgo.French:    fr,
		discordgo.EnglishUS: en,
		discordgo.SpanishES: es,
	}
}

func choices(values ...string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(values))
	for _, value := range values {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: value, Value: value})
	}
	return out
}

func actionChoices() []*discordgo.ApplicationCommandOptionChoice {
	values := make([]string, 0, len(antinuke.Actions))
	for _, action := range antinuke.Actions {
		values = append(values, string(action))
	}
	return choices(values...)
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionAdministrator)
	guildOnly := false
	minMinutes := 1.0
	command := func(name, en, fr, es string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
		descriptions := localized(en, fr, es)
		return &discordgo.ApplicationCommand{
			Name:                     name,
			Description:              en,
			DescriptionLocalizations: &descriptions,
			DefaultMemberPermissions: &adminOnly,
			DMPermission:             &guildOnly,
			Options:                  options,
		}
	}

	return []*discordgo.ApplicationCommand{
		command("antinuke", "Show or toggle anti-nuke protection", "Afficher ou basculer l'anti-nuke", "Mostrar o alternar el anti-nuke",
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionString,
				Name:                     "action",
				Description:              "status, enable, disable, logs or unlock",
				DescriptionLocalizations: localized("status, enable, disable, logs or unlock", "status, enable, disable, logs ou unlock", "status, enable, disable, logs o unlock"),
				Required:                 true,
				Choices:                  choices("status", "enable", "disable", "logs", "unlock"),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionChannel,
				Name:                     "channel",
				Description:              "security log channel for action=logs",
				DescriptionLocalizations: localized("security log channel for action=logs", "salon des logs pour action=logs", "canal de logs para action=logs"),
				ChannelTypes:             []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
			},
		),
		command("limits", "View or set per-action limits", "Voir ou modifier les limites", "Ver o modificar los limites",
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionString,
				Name:                     "action",
				Description:              "view or set",
				DescriptionLocalizations: localized("view or set", "view ou set", "view o set"),
				Required:                 true,
				Choices:                  choices("view", "set"),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionString,
				Name:                     "key",
				Description:              "action type to change",
				DescriptionLocalizations: localized("action type to change", "type d'action a modifier", "tipo de accion a modificar"),
				Choices:                  actionChoices(),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionInteger,
				Name:                     "limit",
				Description:              "actions allowed inside the window",
				DescriptionLocalizations: localized("actions allowed inside the window", "actions autorisees dans la fenetre", "acciones permitidas en la ventana"),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionInteger,
				Name:                     "window_seconds",
				Description:              "window length in seconds",
				DescriptionLocalizations: localized("window length in seconds", "duree de la fenetre (secondes)", "duracion de la ventana (segundos)"),
			},
		),
		command("protect", "Manage protected channels and roles", "Gerer les salons et roles proteges", "Gestionar canales y roles protegidos",
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionString,
				Name:                     "action",
				Description:              "add, remove or list",
				DescriptionLocalizations: localized("add, remove or list", "add, remove ou list", "add, remove o list"),
				Required:                 true,
				Choices:                  choices("add", "remove", "list"),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionChannel,
				Name:                     "channel",
				Description:              "channel or category",
				DescriptionLocalizations: localized("channel or category", "salon ou categorie", "canal o categoria"),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionRole,
				Name:                     "role",
				Description:              "role",
				DescriptionLocalizations: localized("role", "role", "rol"),
			},
		),
		command("whitelist", "Manage anti-nuke exemptions", "Gerer les exemptions anti-nuke", "Gestionar exenciones anti-nuke",
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionString,
				Name:                     "action",
				Description:              "add, remove or list",
				DescriptionLocalizations: localized("add, remove or list", "add, remove ou list", "add, remove o list"),
				Required:                 true,
				Choices:                  choices("add", "remove", "list"),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionUser,
				Name:                     "user",
				Description:              "user or bot to exempt",
				DescriptionLocalizations: localized("user or bot to exempt", "utilisateur ou bot a exempter", "usuario o bot a eximir"),
			},
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionInteger,
				Name:                     "minutes",
				Description:              "exemption length, permanent when omitted",
				DescriptionLocalizations: localized("exemption length, permanent when omitted", "duree, permanente si omise", "duracion, permanente si se omite"),
				MinValue:                 &minMinutes,
			},
		),
		command("nukestats", "Show anti-nuke counters and recent events", "Afficher les compteurs anti-nuke", "Mostrar los contadores anti-nuke",
			&discordgo.ApplicationCommandOption{
				Type:                     discordgo.ApplicationCommandOptionUser,
				Name:                     "user",
				Description:              "actor to inspect",
				DescriptionLocalizations: localized("actor to inspect", "acteur a inspecter", "actor a inspeccionar"),
			},
		),
		command("snapshot", "Capture a server snapshot now", "Capturer un instantane du serveur", "Capturar una instantanea del servidor"),
	}
}

// registerCommands reconciles the global command set: existing commands are
// edited in place, new ones created and stale ones removed.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
