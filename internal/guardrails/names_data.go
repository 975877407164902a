package guardrails

import "strings"

// Word lists backing the name guardrail: name dictionaries used to decide
// whether a capitalized token is plausibly a person's name, a stopword list
// to rule out common non-name tokens that would otherwise match, and fake
// name pools used to mint readable replacements.

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var englishMaleFirstNames = []string{
	"james", "john", "robert", "michael", "david",
	"william", "richard", "joseph", "thomas", "charles",
	"christopher", "daniel", "matthew", "anthony", "mark",
	"donald", "steven", "paul", "andrew", "joshua",
	"kenneth", "kevin", "brian", "george", "timothy",
	"ronald", "edward", "jason", "jeffrey", "ryan",
	"jacob", "gary", "nicholas", "eric", "jonathan",
	"stephen", "larry", "justin", "scott", "brandon",
	"benjamin", "samuel", "raymond", "gregory", "frank",
	"alexander", "patrick", "jack", "dennis", "jerry",
	"tyler", "aaron", "jose", "adam", "nathan",
	"henry", "peter", "zachary", "douglas",
	"harold", "kyle", "noah", "gerald", "ethan",
	"carl", "terry", "sean", "austin", "arthur",
	"lawrence", "jesse", "dylan", "bryan", "joe",
	"jordan", "billy", "bruce", "albert", "willie",
	"gabriel", "logan", "ralph", "roy", "eugene",
	"russell", "bobby", "mason", "philip", "louis",
	"harry", "vincent", "martin", "elijah",
}

var englishFemaleFirstNames = []string{
	"mary", "patricia", "jennifer", "linda", "barbara",
	"elizabeth", "susan", "jessica", "sarah", "karen",
	"lisa", "nancy", "betty", "margaret", "sandra",
	"ashley", "dorothy", "kimberly", "emily", "donna",
	"michelle", "carol", "amanda", "melissa", "deborah",
	"stephanie", "rebecca", "sharon", "laura", "cynthia",
	"kathleen", "amy", "angela", "shirley", "anna",
	"brenda", "pamela", "emma", "nicole", "helen",
	"samantha", "katherine", "christine", "debra", "rachel",
	"carolyn", "janet", "catherine", "maria", "heather",
	"diane", "ruth", "julie", "olivia", "joyce",
	"virginia", "victoria", "kelly", "lauren", "christina",
	"joan", "evelyn", "judith", "megan", "andrea",
	"cheryl", "hannah", "jacqueline", "martha", "gloria",
	"teresa", "ann", "sara", "madison", "frances",
	"kathryn", "janice", "jean", "abigail", "alice",
	"julia", "judy", "sophia", "denise", "doris",
	"marilyn", "danielle", "beverly", "isabella", "theresa",
	"diana", "natalie", "brittany", "charlotte", "marie",
	"kayla", "alexis",
}

var scandinavianFirstNames = []string{
	"ludde", "ludvig", "lars", "erik", "olof",
	"anders", "sven", "karl", "magnus", "nils",
	"astrid", "ingrid", "sigrid", "freya", "linnea",
	"björn", "gunnar", "leif", "axel", "oscar",
	"hugo", "elias", "liam", "ebba", "saga", "maja",
}

var germanFirstNames = []string{
	"hans", "fritz", "klaus", "stefan", "wolfgang",
	"petra", "monika", "ursula", "sabine", "claudia",
	"dieter", "jürgen", "uwe", "heike",
}

var spanishFirstNames = []string{
	"carlos", "miguel", "pedro", "pablo", "diego",
	"javier", "sergio", "carmen", "elena", "lucia",
	"sofia", "rosa", "isabel",
}

var eastAsianFirstNames = []string{
	"wei", "ming", "chen", "wang", "zhang",
	"liu", "yang", "huang", "yuki", "kenji",
	"takashi", "hiroshi", "naoki", "akira", "ryu", "satoshi",
}

var southAsianFirstNames = []string{
	"raj", "priya", "amit", "rahul", "deepak",
	"sanjay", "vikram", "anil", "anita", "sunita",
	"kavita", "ravi", "suresh", "mahesh",
}

// CommonFirstNames contains common first names (lowercase) from multiple
// cultures, used to recognize likely given names in free text.
var CommonFirstNames = setOf(concat(
	englishMaleFirstNames, englishFemaleFirstNames, scandinavianFirstNames,
	germanFirstNames, spanishFirstNames, eastAsianFirstNames, southAsianFirstNames,
)...)

var englishLastNames = []string{
	"smith", "johnson", "williams", "brown", "jones",
	"garcia", "miller", "davis", "rodriguez", "martinez",
	"hernandez", "lopez", "gonzalez", "wilson", "anderson",
	"thomas", "taylor", "moore", "jackson", "martin",
	"lee", "perez", "thompson", "white", "harris",
	"sanchez", "clark", "ramirez", "lewis", "robinson",
	"walker", "young", "allen", "king", "wright",
	"scott", "torres", "nguyen", "hill", "flores",
	"green", "adams", "nelson", "baker", "hall",
	"rivera", "campbell", "mitchell", "carter", "roberts",
	"gomez", "phillips", "evans", "turner", "diaz",
	"parker", "cruz", "edwards", "collins", "reyes",
	"stewart", "morris", "morales", "murphy", "cook",
	"rogers", "gutierrez", "ortiz", "morgan", "cooper",
	"peterson", "bailey", "reed", "kelly", "howard",
	"ramos", "kim", "cox", "ward", "richardson",
	"watson", "brooks", "chavez", "wood", "james",
	"bennett", "gray", "mendoza", "ruiz", "hughes",
	"price", "alvarez", "castillo", "sanders", "patel",
	"myers", "long", "ross", "foster", "jimenez",
	"powell", "jenkins", "perry", "russell", "sullivan",
	"bell", "coleman", "butler", "henderson", "barnes",
	"gonzales", "fisher", "vasquez", "simmons", "graham",
	"jordan", "reynolds", "hamilton", "ford", "wallace",
	"gibson", "spencer",
}

var scandinavianLastNames = []string{
	"andersson", "johansson", "karlsson", "nilsson",
	"eriksson", "larsson", "olsson", "persson",
	"svensson", "gustafsson", "pettersson", "jonsson",
	"lindberg", "lindström", "lindgren", "berg",
	"berglund", "ström",
}

var germanLastNames = []string{
	"mueller", "schmidt", "schneider", "fischer",
	"weber", "meyer", "wagner", "becker", "schulz",
	"müller", "hoffmann", "koch", "richter", "wolf", "schröder",
}

var eastAsianLastNames = []string{
	"wang", "li", "zhang", "liu", "chen",
	"yang", "huang", "zhao", "wu", "zhou",
	"tanaka", "suzuki", "watanabe", "yamamoto", "nakamura",
	"sato", "park", "choi", "jung", "kang", "xu", "sun",
}

// CommonLastNames contains common last names (lowercase) from multiple
// cultures.
var CommonLastNames = setOf(concat(
	englishLastNames, scandinavianLastNames, germanLastNames, eastAsianLastNames,
)...)

var programmingStopwords = []string{
	"string", "number", "boolean", "object", "array",
	"function", "class", "import", "export", "return",
	"const", "async", "await", "error", "debug",
	"info", "warning", "success", "failed", "true",
	"false", "null", "undefined", "default", "select",
	"option", "button", "input", "label", "table",
	"column", "index", "service", "server", "client",
	"model", "proxy", "config", "status", "result",
	"request", "response", "message", "content", "system",
	"create", "update", "delete", "read", "write",
	"build", "start", "stop", "running", "pending",
}

var calendarStopwords = []string{
	"monday", "tuesday", "wednesday", "thursday",
	"friday", "saturday", "sunday", "january",
	"february", "march", "april", "june", "july",
	"august", "september", "october", "november",
	"december", "north", "south", "east", "west",
	"main", "test", "hello", "world",
}

// wordsAlsoNamesStopwords lists single words that double as real names
// (Will, Grace, Rose, ...) but are common enough in ordinary prose that
// treating every occurrence as a name would over-redact.
var wordsAlsoNamesStopwords = []string{
	"will", "bill", "frank", "grace", "hope",
	"joy", "max", "may", "dawn", "summer",
	"autumn", "winter", "spring", "amber", "ruby",
	"violet", "iris", "ivy", "holly", "lily",
	"rose", "brook",
}

// NameStopwords contains words that should not be treated as names even
// when they're capitalized and otherwise look like one.
var NameStopwords = setOf(concat(programmingStopwords, calendarStopwords, wordsAlsoNamesStopwords)...)

// FakeFirstNames is a pool of gender-neutral fake first names for replacement.
var FakeFirstNames = []string{
	"Alex", "Jordan", "Casey", "Taylor", "Morgan", "Riley", "Quinn", "Avery",
	"Dakota", "Skyler", "Jamie", "Parker", "Rowan", "Finley", "Sage", "Emery",
	"Hayden", "Reese", "Blair", "Drew", "Cameron", "Phoenix", "Remy", "Peyton",
	"Shea", "Robin", "Spencer", "Tatum", "Val", "Winter", "Arden", "Blake",
	"Charlie", "Devon", "Eden", "Frankie", "Gray", "Harley", "Indigo", "Jules",
	"Kai", "Lane", "Marley", "Noel", "Oakley", "Palmer", "Raven", "Sawyer",
}

// FakeLastNames is a pool of fake last names for replacement.
var FakeLastNames = []string{
	"Morgan", "Lee", "Rivera", "Chen", "Bailey", "Brooks", "Foster", "Hayes",
	"Kim", "Patel", "Cruz", "Diaz", "Ellis", "Grant", "Harper", "Huang",
	"Iyer", "James", "Kelly", "Lambert", "Mills", "Nash", "Ortiz", "Park",
	"Quinn", "Reed", "Singh", "Torres", "Voss", "Walsh", "Young", "Zhang",
	"Adler", "Burns", "Carter", "Drake", "Evans", "Flores", "Gomez", "Hart",
	"Jensen", "Khan", "Liu", "Moore", "Novak", "Price", "Russo", "Scott",
}

// fakeNamesLower is fakeFirstNames+fakeLastNames folded to lowercase, so the
// name guardrail can recognize and skip its own previous output.
var fakeNamesLower = lowercasedSet(concat(FakeFirstNames, FakeLastNames))

func lowercasedSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = true
	}
	return m
}

func concat(groups ...[]string) []string {
	var all []string
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}
